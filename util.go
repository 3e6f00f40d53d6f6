package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

// GenerateID returns a random hex string of the given byte length
func GenerateID(byteLen int) string {
	b := make([]byte, byteLen)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateUUID returns a random (version 4) UUID string
func GenerateUUID() string {
	return uuid.NewString()
}

// reportPanic logs a recovered panic and forwards it to Sentry when a
// client is configured. kv are tag name/value pairs.
func reportPanic(err interface{}, kv ...string) {
	log.Printf("panic: %v", err)
	hub := sentry.CurrentHub().Clone()
	if hub.Client() == nil {
		return
	}
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for i := 0; i+1 < len(kv); i += 2 {
			scope.SetTag(kv[i], kv[i+1])
		}
	})
	hub.Recover(fmt.Errorf("%v", err))
	hub.Flush(5 * time.Second)
}
