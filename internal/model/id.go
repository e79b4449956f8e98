package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

type IDType string

const IDTypeTask IDType = "task"

var idRegex = regexp.MustCompile(`^task_[0-9]{10}_[0-9a-f]{8}$`)

// GenerateID produces a sortable, collision-resistant identifier of the form
// <type>_<unix10>_<hex8>.
func GenerateID(idType IDType) (string, error) {
	if idType != IDTypeTask {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}

	timestamp := time.Now().Unix()
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}

	return fmt.Sprintf("%s_%010d_%s", idType, timestamp, hex.EncodeToString(randomBytes)), nil
}

// ValidateID reports whether id is a well-formed task identifier. Task IDs
// become directory names under the task store, so the format is enforced at
// the request boundary.
func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}
