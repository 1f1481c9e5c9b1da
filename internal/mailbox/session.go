package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsync/internal/model"
)

// RawMessage is one message as pulled off the wire: the protocol UID,
// the current flag set, and the unparsed RFC 2822 bytes.
type RawMessage struct {
	UID   uint32
	Flags []string
	Raw   []byte
}

// Session is an authenticated connection to one remote mailbox. It is
// not safe for concurrent use; callers serialize fetches and flag
// mutations through WithMailboxLock.
type Session interface {
	OpenMailbox(name string) (uint32, error)
	ForEachMessage(from, to uint32, fn func(RawMessage) error) error
	WithMailboxLock(fn func() error) error
	SetFlags(uid uint32, flags []string) error
	AddFlags(uid uint32, flags []string) error
	RemoveFlags(uid uint32, flags []string) error
	Close() error
}

// Dialer establishes a mailbox session. The engine takes one so tests
// can substitute fake sessions.
type Dialer func(ctx context.Context, cfg model.IMAPConfig) (Session, error)

// imapSession implements Session over a go-imap v2 client.
type imapSession struct {
	client *imapclient.Client
	mu     sync.Mutex
}

// Dial connects to the IMAP server described by cfg, upgrades to TLS,
// and authenticates. Any network, TLS, or authentication failure is
// returned as a *ConnectionError.
func Dial(ctx context.Context, cfg model.IMAPConfig) (Session, error) {
	addr := cfg.Address()

	dialer := &net.Dialer{Timeout: cfg.DialTimeout()}

	var client *imapclient.Client
	if cfg.TLS {
		tlsConfig := &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, &ConnectionError{Op: "connect", Err: err}
		}
		client = imapclient.New(conn, nil)
	} else {
		var err error
		client, err = imapclient.DialStartTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		})
		if err != nil {
			return nil, &ConnectionError{Op: "connect", Err: err}
		}
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &ConnectionError{Op: "login", Err: err}
	}

	return &imapSession{client: client}, nil
}

// OpenMailbox selects the named mailbox and returns its message count.
func (s *imapSession) OpenMailbox(name string) (uint32, error) {
	data, err := s.client.Select(name, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("selecting mailbox %s: %w", name, err)
	}
	return data.NumMessages, nil
}

// ForEachMessage streams messages in the sequence range [from, to]
// (to == 0 meaning "*") one at a time, calling fn for each. Only one
// message is buffered at any moment, so memory stays bounded regardless
// of mailbox size. A fn error stops the stream and is returned. A
// message that cannot be collected is skipped so the rest of the
// mailbox still syncs, and the first such failure is returned after the
// stream ends.
func (s *imapSession) ForEachMessage(from, to uint32, fn func(RawMessage) error) error {
	var seqSet imap.SeqSet
	seqSet.AddRange(from, to)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(seqSet, fetchOpts)
	defer fetchCmd.Close()

	var fnErr, collectErr error
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			// Keep streaming the remaining messages, but the lost one
			// must surface: remember the first failure for the caller.
			if collectErr == nil {
				collectErr = fmt.Errorf("collecting message: %w", err)
			}
			continue
		}

		raw := RawMessage{
			UID: uint32(buf.UID),
			Raw: buf.FindBodySection(bodySection),
		}
		for _, flag := range buf.Flags {
			raw.Flags = append(raw.Flags, string(flag))
		}

		if fnErr = fn(raw); fnErr != nil {
			break
		}
	}

	if err := fetchCmd.Close(); err != nil && fnErr == nil && collectErr == nil {
		return fmt.Errorf("fetching messages: %w", err)
	}
	if fnErr != nil {
		return fnErr
	}
	return collectErr
}

// WithMailboxLock runs fn while holding the session's exclusive mailbox
// lock. The lock is released on every exit path, panics included. It
// guarantees exclusivity only within this session; cross-run exclusivity
// is the caller's responsibility.
func (s *imapSession) WithMailboxLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// SetFlags replaces the flag set of the message with the given UID.
func (s *imapSession) SetFlags(uid uint32, flags []string) error {
	return s.storeFlags(uid, flags, imap.StoreFlagsSet)
}

// AddFlags adds flags to the message with the given UID.
func (s *imapSession) AddFlags(uid uint32, flags []string) error {
	return s.storeFlags(uid, flags, imap.StoreFlagsAdd)
}

// RemoveFlags removes flags from the message with the given UID.
func (s *imapSession) RemoveFlags(uid uint32, flags []string) error {
	return s.storeFlags(uid, flags, imap.StoreFlagsDel)
}

// storeFlags issues one STORE command under the mailbox lock. Each call
// is an independent, transactional mutation.
func (s *imapSession) storeFlags(uid uint32, flags []string, op imap.StoreFlagsOp) error {
	return s.WithMailboxLock(func() error {
		imapFlags := make([]imap.Flag, 0, len(flags))
		for _, f := range flags {
			imapFlags = append(imapFlags, imap.Flag(f))
		}

		storeCmd := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  imapFlags,
		}, nil)

		if err := storeCmd.Close(); err != nil {
			return fmt.Errorf("storing flags on uid %d: %w", uid, err)
		}
		return nil
	})
}

// Close logs out of the session. Logout failures are swallowed: the
// remote server will reap the connection, and a failed logout must not
// mask an earlier, more interesting error.
func (s *imapSession) Close() error {
	_ = s.client.Logout().Wait()
	return nil
}
