// Package thread assigns messages to conversations and maintains the
// denormalized per-thread statistics.
package thread

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lookup is the narrow store view the resolver consults: given a
// canonical remote id, the thread id of the stored message carrying it.
type Lookup interface {
	ThreadIDForRemoteID(ctx context.Context, tenantID, remoteID string) (string, bool, error)
}

// Resolve computes the thread id for a message from its canonicalized
// threading headers. It is deterministic and single-pass; there is no
// global reconciliation:
//
//  1. With an In-Reply-To, inherit the parent's thread id when the
//     parent is stored; otherwise the In-Reply-To value itself becomes
//     the thread id, a placeholder for a parent that may never arrive.
//  2. Otherwise scan References in order and inherit the thread id of
//     the first stored ancestor, falling back to the first reference's
//     value.
//  3. A root message threads under its own message id, or a generated
//     id when it has none.
//
// Two placeholder threads that later turn out to share an ancestor are
// never merged; a late-arriving parent whose id matches an existing
// placeholder coincidentally joins that thread. Both are intended
// behavior, not error cases.
func Resolve(ctx context.Context, lookup Lookup, tenantID, messageID, inReplyTo string, references []string) (string, error) {
	if inReplyTo != "" {
		threadID, ok, err := lookup.ThreadIDForRemoteID(ctx, tenantID, inReplyTo)
		if err != nil {
			return "", fmt.Errorf("resolving in-reply-to %s: %w", inReplyTo, err)
		}
		if ok {
			return threadID, nil
		}
		return inReplyTo, nil
	}

	if len(references) > 0 {
		for _, ref := range references {
			threadID, ok, err := lookup.ThreadIDForRemoteID(ctx, tenantID, ref)
			if err != nil {
				return "", fmt.Errorf("resolving reference %s: %w", ref, err)
			}
			if ok {
				return threadID, nil
			}
		}
		return references[0], nil
	}

	if messageID != "" {
		return messageID, nil
	}
	return GenerateThreadID(), nil
}

// GenerateThreadID builds a unique thread id for a root message that
// carries no Message-ID of its own.
func GenerateThreadID() string {
	return fmt.Sprintf("<%d.%s@mailsync.local>", time.Now().UnixMilli(), uuid.NewString()[:8])
}
