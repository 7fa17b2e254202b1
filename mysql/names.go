package mysql

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxQueueKeyLen = 128

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}

func validateQueueKey(key string) error {
	if key == "" {
		return ErrQueueKeyRequired
	}
	if utf8.RuneCountInString(key) > maxQueueKeyLen {
		return fmt.Errorf("%w: %d characters, max %d", ErrQueueKeyTooLong, utf8.RuneCountInString(key), maxQueueKeyLen)
	}

	return nil
}
