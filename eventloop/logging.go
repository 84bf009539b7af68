// logging.go - Structured Logging for the Eventloop Module
//
// The loop logs through github.com/joeycumines/logiface, configured per Loop
// via WithLogger. A nil logger disables structured logging, in which case
// critical conditions and task panics still reach the standard library log
// package, so they are never silently lost.

package eventloop

import (
	"fmt"
	"log"

	"github.com/joeycumines/logiface"
)

// Log categories, attached as the "category" field.
const (
	categoryPoll     = "poll"
	categoryTask     = "task"
	categorySelector = "selector"
	categoryShutdown = "shutdown"
)

// logCritical reports a condition that terminates the loop.
func (l *Loop) logCritical(msg string, err error) {
	if l.logger == nil {
		log.Printf("CRITICAL: eventloop: %s: %v", msg, err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("CRITICAL: eventloop: %s: %v (logger panicked: %v)", msg, err, r)
		}
	}()
	l.logger.Crit().
		Str("category", categoryPoll).
		Uint64("loop_id", l.id).
		Err(err).
		Log(msg)
}

// logError reports a recoverable failure, e.g. a panicking task.
func (l *Loop) logError(category, msg string, err error) {
	if l.logger == nil {
		log.Printf("ERROR: eventloop: %s: %v", msg, err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: eventloop: %s: %v (logger panicked: %v)", msg, err, r)
		}
	}()
	l.logger.Err().
		Str("category", category).
		Uint64("loop_id", l.id).
		Err(err).
		Log(msg)
}

// debug returns a debug level builder, tagged with the loop id, or nil.
func (l *Loop) debug(category string) *logiface.Builder[logiface.Event] {
	return l.logger.Debug().
		Str("category", category).
		Uint64("loop_id", l.id)
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
