package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrNoDigest is returned when a session was stored without its capture.
	ErrNoDigest = errors.New("store: session has no capture digest")

	// ErrDigestMismatch is returned when a capture does not match the digest
	// recorded for its session.
	ErrDigestMismatch = errors.New("store: capture digest mismatch")
)

// CaptureDigest returns the BLAKE2b-256 digest of a raw capture.
func CaptureDigest(capture []byte) [32]byte {
	return blake2b.Sum256(capture)
}

// VerifyCapture checks that capture is the byte stream session id decoded.
func (s *Store) VerifyCapture(ctx context.Context, id string, capture []byte) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(sess.CaptureDigest) == 0 {
		return fmt.Errorf("%w: %s", ErrNoDigest, id)
	}

	computed := CaptureDigest(capture)
	if !bytes.Equal(computed[:], sess.CaptureDigest) {
		return fmt.Errorf("%w for session %s: computed %x, stored %x",
			ErrDigestMismatch, id, computed, sess.CaptureDigest)
	}
	return nil
}
