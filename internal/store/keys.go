package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/reelforge/api/internal/model"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrLeaseLost   = errors.New("lease not held")
	ErrJobTerminal = errors.New("job already finished")
)

const (
	jobIndexKey  = "jobs:index"
	activeSetKey = "jobs:active"
)

func jobKey(id string) string { return fmt.Sprintf("job:%s", id) }

// LeaseKey is the hash holding owner, locked_at and expires_at (unix ms) for a job.
func LeaseKey(id string) string { return fmt.Sprintf("job:%s:lease", id) }

func cancelKey(id string) string { return fmt.Sprintf("job:%s:cancel", id) }

func stepsKey(id string) string { return fmt.Sprintf("job:%s:steps", id) }

func jobAssetsKey(id string) string { return fmt.Sprintf("job:%s:assets", id) }

func assetKey(hash string) string { return fmt.Sprintf("asset:%s", hash) }

func statsKey(contentType model.ContentType, stage model.StageType) string {
	return fmt.Sprintf("stats:%s:%s", contentType, stage)
}

// AssetHash derives the idempotent asset key from the generation inputs.
// Parts are length-prefixed so ("ab","c") and ("a","bc") never collide.
func AssetHash(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
