package cos

import (
	stderrors "errors"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/nodestore/shardmgr/internal/nlog"
)

// recoverable errors (§7): returned to callers, safe to retry
var (
	ErrUnknownPG   = stderrors.New("unknown placement group")
	ErrPGNotReady  = stderrors.New("placement group has no replication handle")
	ErrCRCMismatch = stderrors.New("crc mismatch")
)

// WrapUnknownPG, WrapPGNotReady, and WrapCRCMismatch attach caller context
// to the sentinel errors above using pkg/errors, matching the teacher's
// go.mod dependency for HTTP-facing error wrapping — here used at the one
// boundary the Proposer exposes to callers.
func WrapUnknownPG(pgID uint64) error {
	return errors.Wrapf(ErrUnknownPG, "pg %d", pgID)
}

func WrapPGNotReady(pgID uint64) error {
	return errors.Wrapf(ErrPGNotReady, "pg %d", pgID)
}

func WrapCRCMismatch(context string) error {
	return errors.Wrapf(ErrCRCMismatch, "%s", context)
}

// Errs is a bounded multi-error accumulator, modeled on the teacher's
// cmn/cos.Errs: collects up to maxErrs distinct errors, deduplicated by
// message, and joins them on demand.
type Errs struct {
	mu   sync.Mutex
	errs []error
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) JoinErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return stderrors.Join(e.errs...)
}

// ExitLogf logs a fatal condition and aborts the process — the handling
// for the §7 "programming error" class (missing PG at commit, missing
// shard on SEAL, duplicate shard-ID insertion, sequence exhaustion).
func ExitLogf(f string, a ...any) {
	msg := fmt.Sprintf("FATAL: "+f, a...)
	nlog.Errorf("%s", msg)
	nlog.Flush(true)
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
