// Package storage is the durable Domain Store: profile, daily entries, goal,
// user context, audit log and chat transcript in a single sqlite database.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"kbju-tracker/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteStorage{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS profile (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        height REAL NOT NULL,
        weight REAL NOT NULL,
        age INTEGER NOT NULL,
        gender TEXT NOT NULL,
        activity_level TEXT NOT NULL,
        goal TEXT NOT NULL,
        target_weight REAL
    );

    CREATE TABLE IF NOT EXISTS goal (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        calories INTEGER NOT NULL,
        protein INTEGER NOT NULL,
        fat INTEGER NOT NULL,
        carbs INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS entries (
        id TEXT PRIMARY KEY,
        date TEXT NOT NULL UNIQUE,
        weight REAL,
        activity_type TEXT,
        activity_duration INTEGER,
        activity_calories INTEGER,
        activity_description TEXT
    );

    CREATE TABLE IF NOT EXISTS meals (
        id TEXT PRIMARY KEY,
        entry_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        name TEXT NOT NULL,
        calories REAL NOT NULL,
        protein REAL NOT NULL,
        fat REAL NOT NULL,
        carbs REAL NOT NULL,
        FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS user_context (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        name TEXT NOT NULL DEFAULT '',
        preferences TEXT NOT NULL DEFAULT '[]',
        notes TEXT NOT NULL DEFAULT '',
        last_updated DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS activity_log (
        id TEXT PRIMARY KEY,
        timestamp DATETIME NOT NULL,
        date TEXT NOT NULL,
        action_type TEXT NOT NULL,
        description TEXT NOT NULL,
        data TEXT,
        message_id TEXT
    );

    CREATE TABLE IF NOT EXISTS chat_history (
        id TEXT PRIMARY KEY,
        position INTEGER NOT NULL,
        role TEXT NOT NULL,
        content TEXT NOT NULL,
        timestamp DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);
    CREATE INDEX IF NOT EXISTS idx_meals_entry_id ON meals(entry_id);
    CREATE INDEX IF NOT EXISTS idx_activity_log_timestamp ON activity_log(timestamp);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Profile() (*models.UserProfile, error) {
	row := s.db.QueryRow(`
        SELECT height, weight, age, gender, activity_level, goal, target_weight
        FROM profile WHERE id = 1`)

	p := &models.UserProfile{}
	var gender, activityLevel, goal string
	var targetWeight sql.NullFloat64
	err := row.Scan(&p.Height, &p.Weight, &p.Age, &gender, &activityLevel, &goal, &targetWeight)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	p.Gender = models.Gender(gender)
	p.ActivityLevel = models.ActivityLevel(activityLevel)
	p.Goal = models.GoalKind(goal)
	if targetWeight.Valid {
		p.TargetWeight = &targetWeight.Float64
	}
	return p, nil
}

func (s *SQLiteStorage) SetProfile(p *models.UserProfile) error {
	var targetWeight interface{}
	if p.TargetWeight != nil {
		targetWeight = *p.TargetWeight
	}
	_, err := s.db.Exec(`
        INSERT INTO profile (id, height, weight, age, gender, activity_level, goal, target_weight)
        VALUES (1, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            height = excluded.height,
            weight = excluded.weight,
            age = excluded.age,
            gender = excluded.gender,
            activity_level = excluded.activity_level,
            goal = excluded.goal,
            target_weight = excluded.target_weight`,
		p.Height, p.Weight, p.Age, string(p.Gender), string(p.ActivityLevel), string(p.Goal), targetWeight)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Goal() (*models.KBJUGoal, error) {
	row := s.db.QueryRow(`SELECT calories, protein, fat, carbs FROM goal WHERE id = 1`)
	g := &models.KBJUGoal{}
	err := row.Scan(&g.Calories, &g.Protein, &g.Fat, &g.Carbs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query goal: %w", err)
	}
	return g, nil
}

func (s *SQLiteStorage) SetGoal(g *models.KBJUGoal) error {
	_, err := s.db.Exec(`
        INSERT INTO goal (id, calories, protein, fat, carbs)
        VALUES (1, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            calories = excluded.calories,
            protein = excluded.protein,
            fat = excluded.fat,
            carbs = excluded.carbs`,
		g.Calories, g.Protein, g.Fat, g.Carbs)
	if err != nil {
		return fmt.Errorf("failed to save goal: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Entries() ([]models.DailyEntry, error) {
	rows, err := s.db.Query(`
        SELECT id, date, weight, activity_type, activity_duration, activity_calories, activity_description
        FROM entries ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []models.DailyEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}

	for i := range entries {
		if err := s.loadMeals(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *SQLiteStorage) EntryByDate(date string) (*models.DailyEntry, error) {
	rows, err := s.db.Query(`
        SELECT id, date, weight, activity_type, activity_duration, activity_calories, activity_description
        FROM entries WHERE date = ?`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	entry, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()
	if err := s.loadMeals(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.DailyEntry, error) {
	entry := &models.DailyEntry{}
	var weight sql.NullFloat64
	var actType, actDesc sql.NullString
	var actDuration, actCalories sql.NullInt64

	err := row.Scan(&entry.ID, &entry.Date, &weight, &actType, &actDuration, &actCalories, &actDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}
	if weight.Valid {
		entry.Weight = &weight.Float64
	}
	if actType.Valid {
		activity := &models.Activity{Type: models.ActivityType(actType.String)}
		if actDuration.Valid {
			d := int(actDuration.Int64)
			activity.Duration = &d
		}
		if actCalories.Valid {
			c := int(actCalories.Int64)
			activity.Calories = &c
		}
		if actDesc.Valid {
			activity.Description = actDesc.String
		}
		entry.Activity = activity
	}
	return entry, nil
}

func (s *SQLiteStorage) loadMeals(entry *models.DailyEntry) error {
	rows, err := s.db.Query(`
        SELECT id, name, calories, protein, fat, carbs
        FROM meals WHERE entry_id = ? ORDER BY position`, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to query meals: %w", err)
	}
	defer rows.Close()

	var meals []models.Meal
	for rows.Next() {
		meal := models.Meal{}
		if err := rows.Scan(&meal.ID, &meal.Name, &meal.Calories, &meal.Protein, &meal.Fat, &meal.Carbs); err != nil {
			return fmt.Errorf("failed to scan meal: %w", err)
		}
		meals = append(meals, meal)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate meals: %w", err)
	}
	entry.Meals = meals
	return nil
}

// SaveEntry upserts the entry row and rewrites its meal list in one
// transaction, preserving submission order.
func (s *SQLiteStorage) SaveEntry(entry *models.DailyEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var weight interface{}
	if entry.Weight != nil {
		weight = *entry.Weight
	}
	var actType, actDesc, actDuration, actCalories interface{}
	if entry.Activity != nil {
		actType = string(entry.Activity.Type)
		if entry.Activity.Description != "" {
			actDesc = entry.Activity.Description
		}
		if entry.Activity.Duration != nil {
			actDuration = *entry.Activity.Duration
		}
		if entry.Activity.Calories != nil {
			actCalories = *entry.Activity.Calories
		}
	}

	_, err = tx.Exec(`
        INSERT INTO entries (id, date, weight, activity_type, activity_duration, activity_calories, activity_description)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(date) DO UPDATE SET
            weight = excluded.weight,
            activity_type = excluded.activity_type,
            activity_duration = excluded.activity_duration,
            activity_calories = excluded.activity_calories,
            activity_description = excluded.activity_description`,
		entry.ID, entry.Date, weight, actType, actDuration, actCalories, actDesc)
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM meals WHERE entry_id = ?`, entry.ID); err != nil {
		return fmt.Errorf("failed to clear meals: %w", err)
	}
	for i, meal := range entry.Meals {
		_, err := tx.Exec(`
            INSERT INTO meals (id, entry_id, position, name, calories, protein, fat, carbs)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			meal.ID, entry.ID, i, meal.Name, meal.Calories, meal.Protein, meal.Fat, meal.Carbs)
		if err != nil {
			return fmt.Errorf("failed to insert meal: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStorage) DeleteEntry(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM meals WHERE entry_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete meals: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStorage) Context() (*models.UserContext, error) {
	row := s.db.QueryRow(`SELECT name, preferences, notes, last_updated FROM user_context WHERE id = 1`)
	ctx := &models.UserContext{}
	var prefs, lastUpdated string
	err := row.Scan(&ctx.Name, &prefs, &ctx.Notes, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query context: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &ctx.Preferences); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if ctx.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated); err != nil {
		return nil, fmt.Errorf("failed to parse last_updated: %w", err)
	}
	return ctx, nil
}

func (s *SQLiteStorage) SetContext(ctx *models.UserContext) error {
	prefs, err := json.Marshal(ctx.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	_, err = s.db.Exec(`
        INSERT INTO user_context (id, name, preferences, notes, last_updated)
        VALUES (1, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            preferences = excluded.preferences,
            notes = excluded.notes,
            last_updated = excluded.last_updated`,
		ctx.Name, string(prefs), ctx.Notes, ctx.LastUpdated.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ActivityLog() ([]models.ActivityLogEntry, error) {
	rows, err := s.db.Query(`
        SELECT id, timestamp, date, action_type, description, data, message_id
        FROM activity_log ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w", err)
	}
	defer rows.Close()

	var entries []models.ActivityLogEntry
	for rows.Next() {
		entry := models.ActivityLogEntry{}
		var ts, actionType string
		var data, messageID sql.NullString
		if err := rows.Scan(&entry.ID, &ts, &entry.Date, &actionType, &entry.Description, &data, &messageID); err != nil {
			return nil, fmt.Errorf("failed to scan activity log entry: %w", err)
		}
		if entry.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		entry.ActionType = models.AuditAction(actionType)
		if data.Valid {
			entry.Data = json.RawMessage(data.String)
		}
		if messageID.Valid {
			entry.MessageID = messageID.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity log: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStorage) AppendActivityLogEntry(entry *models.ActivityLogEntry) error {
	var data interface{}
	if len(entry.Data) > 0 {
		data = string(entry.Data)
	}
	var messageID interface{}
	if entry.MessageID != "" {
		messageID = entry.MessageID
	}
	_, err := s.db.Exec(`
        INSERT INTO activity_log (id, timestamp, date, action_type, description, data, message_id)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.Format(time.RFC3339Nano), entry.Date,
		string(entry.ActionType), entry.Description, data, messageID)
	if err != nil {
		return fmt.Errorf("failed to append activity log entry: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteActivityLogEntry(id string) error {
	if _, err := s.db.Exec(`DELETE FROM activity_log WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete activity log entry: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ChatHistory() ([]models.ChatMessage, error) {
	rows, err := s.db.Query(`SELECT id, role, content, timestamp FROM chat_history ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		msg := models.ChatMessage{}
		var role, ts string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		msg.Role = models.MessageRole(role)
		if msg.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat history: %w", err)
	}
	return messages, nil
}

// SaveChatHistory rewrites the whole transcript; the caller always holds the
// authoritative copy.
func (s *SQLiteStorage) SaveChatHistory(messages []models.ChatMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chat_history`); err != nil {
		return fmt.Errorf("failed to clear chat history: %w", err)
	}
	for i, msg := range messages {
		_, err := tx.Exec(`
            INSERT INTO chat_history (id, position, role, content, timestamp)
            VALUES (?, ?, ?, ?, ?)`,
			msg.ID, i, string(msg.Role), msg.Content, msg.Timestamp.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
	}
	return tx.Commit()
}

// Reset clears every aggregate in one transaction.
func (s *SQLiteStorage) Reset() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"meals", "entries", "profile", "goal", "user_context", "activity_log", "chat_history"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
