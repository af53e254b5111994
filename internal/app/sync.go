package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"cmslake/internal/config"
	"cmslake/internal/engine"
	"cmslake/internal/lake"
	"cmslake/internal/snapshot"
	"cmslake/internal/watch"
)

var _ watch.Syncer = (*App)(nil)

// PullResult counts the rows loaded from the published snapshots.
type PullResult struct {
	Entries int
	Assets  int
}

func urlTTL(cc config.CredentialsConfig) time.Duration {
	if cc.URLTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(cc.URLTTLSeconds) * time.Second
}

// connect opens the engine connection and makes sure the schema exists.
// Callers hold syncMu.
func (a *App) connect(ctx context.Context) (*engine.Conn, error) {
	conn, err := a.engine.Connection(ctx)
	if err != nil {
		return nil, err
	}
	if !a.schemaReady {
		if err := a.schema.InitializeSchema(ctx, conn); err != nil {
			return nil, err
		}
		a.schemaReady = true
	}
	return conn, nil
}

// Pull replaces the local tables with the published snapshots. A snapshot
// that was never published loads as an empty table.
func (a *App) Pull(ctx context.Context) (*PullResult, error) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()
	return a.pull(ctx)
}

func (a *App) pull(ctx context.Context) (*PullResult, error) {
	conn, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	entriesData, assetsData, err := a.fetchSnapshots(ctx, conn)
	if err != nil {
		return nil, err
	}

	var res PullResult
	if res.Entries, err = a.entries.LoadSnapshot(ctx, entriesData); err != nil {
		return nil, fmt.Errorf("loading entries snapshot: %w", err)
	}
	if res.Assets, err = a.assets.LoadSnapshot(ctx, assetsData); err != nil {
		return nil, fmt.Errorf("loading assets snapshot: %w", err)
	}

	a.coordinator.MarkSynced()
	a.pulled = true
	a.logger.Info("pulled snapshots", "entries", res.Entries, "assets", res.Assets)
	return &res, nil
}

// fetchSnapshots downloads both snapshots. With the signed vault both GET
// URLs come from one batch request and the engine's remote reader fetches
// them; other vaults are read directly.
func (a *App) fetchSnapshots(ctx context.Context, conn *engine.Conn) (entriesData, assetsData []byte, err error) {
	entriesKey := a.cfg.Repository.EntriesSnapshotKey()
	assetsKey := a.cfg.Repository.AssetsSnapshotKey()

	read := func(key string) ([]byte, error) {
		var buf bytes.Buffer
		if err := a.vault.Get(ctx, key, &buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	if a.signedVault() {
		urls, err := a.cache.SignedURLs(ctx, []string{entriesKey, assetsKey})
		if err != nil {
			return nil, nil, fmt.Errorf("signing snapshot urls: %w", err)
		}
		read = func(key string) ([]byte, error) {
			u, ok := urls[key]
			if !ok {
				return nil, &lake.ProtocolError{Op: "presign-batch", Message: fmt.Sprintf("no url returned for %s", key)}
			}
			return conn.ReadRemote(ctx, u)
		}
	}

	if entriesData, err = a.readSnapshot(read, entriesKey, func() ([]byte, error) { return snapshot.EncodeEntries(nil) }); err != nil {
		return nil, nil, err
	}
	if assetsData, err = a.readSnapshot(read, assetsKey, func() ([]byte, error) { return snapshot.EncodeAssets(nil) }); err != nil {
		return nil, nil, err
	}
	return entriesData, assetsData, nil
}

// readSnapshot reads one snapshot, substituting an empty one when the object
// does not exist yet.
func (a *App) readSnapshot(read func(string) ([]byte, error), key string, empty func() ([]byte, error)) ([]byte, error) {
	data, err := read(key)
	var nf *lake.NotFoundError
	switch {
	case errors.As(err, &nf):
		a.logger.Info("snapshot not published yet", "key", key)
		return empty()
	case err != nil:
		return nil, fmt.Errorf("reading snapshot %s: %w", key, err)
	}
	return data, nil
}

func (a *App) signedVault() bool {
	return a.cfg.Vault.Type == "" || a.cfg.Vault.Type == "signed"
}

// Stage scans paths under the content root (everything when paths is empty)
// and queues the resulting changes. It returns how many were queued.
func (a *App) Stage(ctx context.Context, paths []string) (int, error) {
	if a.scanner == nil {
		return 0, &lake.ConfigError{Field: "content.root", Message: "no content root configured"}
	}
	changes, err := a.scanner.Changes(paths)
	if err != nil {
		return 0, err
	}

	staged := 0
	for _, ch := range changes {
		if err := ctx.Err(); err != nil {
			return staged, err
		}
		ch.Author = a.author()
		if err := a.staging.Stage(ch); err != nil {
			return staged, err
		}
		a.logger.Debug("staged change", "action", ch.Action, "path", ch.Path)
		staged++
	}
	a.updateStagedGauge()
	return staged, nil
}

// StageMove queues a rename of from to to. The file must already be at its
// new location.
func (a *App) StageMove(ctx context.Context, from, to string) error {
	if a.scanner == nil {
		return &lake.ConfigError{Field: "content.root", Message: "no content root configured"}
	}
	oldRel, err := a.scanner.Rel(from)
	if err != nil {
		return err
	}
	newRel, err := a.scanner.Rel(to)
	if err != nil {
		return err
	}
	if oldRel == "" || newRel == "" || oldRel == newRel {
		return &lake.ValidationError{Field: "path", Message: fmt.Sprintf("cannot move %q to %q", from, to)}
	}

	ch, err := a.scanner.ChangeFor(newRel)
	if err != nil {
		return err
	}
	switch {
	case ch == nil:
		return &lake.ValidationError{Field: "path", Message: fmt.Sprintf("%s is ignored", newRel)}
	case ch.Action == lake.ActionDelete:
		return &lake.ValidationError{Field: "path", Message: fmt.Sprintf("%s does not exist", newRel)}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ch.Action = lake.ActionMove
	ch.OldPath = oldRel
	ch.Author = a.author()
	if err := a.staging.Stage(ch); err != nil {
		return err
	}
	a.updateStagedGauge()
	return nil
}

// Staged lists the queued changes.
func (a *App) Staged() ([]*lake.PendingChange, error) {
	return a.staging.List()
}

func (a *App) updateStagedGauge() {
	n, err := a.staging.Count()
	if err != nil {
		a.logger.Warn("counting staged changes", "error", err)
		return
	}
	a.metrics.SetStagedChanges(n)
}

// CommitStaged commits the whole staging queue. The queue is emptied only
// when the commit is published. A nil result means nothing was staged.
func (a *App) CommitStaged(ctx context.Context) (*lake.CommitResult, error) {
	var res *lake.CommitResult
	n, err := a.staging.Drain(func(changes []lake.PendingChange) error {
		r, err := a.Commit(ctx, changes)
		res = r
		return err
	})
	a.updateStagedGauge()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return res, nil
}

// Commit applies changes on top of the published snapshots and publishes
// the result. The local tables are pulled first when this App has not pulled
// yet. When a commit fails after mutating the local tables they are reloaded
// from the last published snapshots before the error is returned.
func (a *App) Commit(ctx context.Context, changes []lake.PendingChange) (*lake.CommitResult, error) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	if !a.pulled {
		if _, err := a.pull(ctx); err != nil {
			return nil, fmt.Errorf("pulling before commit: %w", err)
		}
	}

	res, err := a.coordinator.Commit(ctx, changes)
	if err != nil {
		if a.coordinator.Diverged() {
			if _, rerr := a.pull(ctx); rerr != nil {
				a.pulled = false
				a.logger.Warn("resync after failed commit", "error", rerr)
			} else {
				a.logger.Info("local tables reloaded after failed commit")
			}
		}
		return nil, err
	}
	return res, nil
}
