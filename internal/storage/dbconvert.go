package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"inkpost/internal/models"
)

// sqliteTimeLayout keeps lexical order equal to chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// marshalPermissions serialises a permissions slice to a JSON string.
func marshalPermissions(perms []models.Permission) (string, error) {
	if perms == nil {
		perms = []models.Permission{}
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return "", fmt.Errorf("marshal permissions: %w", err)
	}
	return string(b), nil
}

// unmarshalPermissions parses stored permissions. Unknown values are
// dropped so a stale row can never grant a scope outside the closed set.
func unmarshalPermissions(data []byte) ([]models.Permission, error) {
	if len(data) == 0 {
		return []models.Permission{}, nil
	}
	var perms []string
	if err := json.Unmarshal(data, &perms); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	return models.NormalizePermissions(perms), nil
}

func timeToText(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func textToTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func timePtrToNullText(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeToText(*t), Valid: true}
}

func nullTextToTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := textToTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
