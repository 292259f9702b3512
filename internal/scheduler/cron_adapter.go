package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// RobfigCronEngine adapts robfig/cron/v3 to the CronEngine interface.
type RobfigCronEngine struct {
	c *cron.Cron
}

// NewRobfigCronEngine returns an engine accepting 5-field expressions and
// descriptors such as "@every 1m". A panicking job is recovered and logged;
// a tick that finds the previous run of the same job still going is skipped.
func NewRobfigCronEngine(logger *slog.Logger) *RobfigCronEngine {
	if logger == nil {
		logger = slog.Default()
	}
	l := cronLogger{logger}
	return &RobfigCronEngine{
		c: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

func (r *RobfigCronEngine) AddFunc(spec string, cmd func()) (int, error) {
	id, err := r.c.AddFunc(spec, cmd)
	return int(id), err
}

func (r *RobfigCronEngine) Remove(id int) {
	r.c.Remove(cron.EntryID(id))
}

func (r *RobfigCronEngine) Start() {
	r.c.Start()
}

// Stop halts the engine and waits for running jobs to return.
func (r *RobfigCronEngine) Stop() {
	<-r.c.Stop().Done()
}

// cronLogger routes robfig/cron's own messages to slog. Routine scheduling
// chatter goes to debug.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
