package treesync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/function61/peili/pkg/fsdigest"
)

func runSync(t *testing.T, cfg *Config, sources []string, dst string) *Syncer {
	t.Helper()

	assert.Ok(t, cfg.CaptureIdentity())

	syncer := New(cfg, nil)
	assert.Ok(t, syncer.Run(context.Background(), sources, dst))

	return syncer
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	assert.Ok(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.Ok(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	assert.Ok(t, err)
	return string(content)
}

func TestCreateTreeAndIdempotence(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	mtime := time.Date(2021, 6, 20, 12, 15, 28, 0, time.UTC)

	writeFile(t, filepath.Join(src, "f1"), "hello")
	writeFile(t, filepath.Join(src, "sub", "f2"), "world")
	assert.Ok(t, os.Chmod(filepath.Join(src, "f1"), 0751))
	assert.Ok(t, os.Chtimes(filepath.Join(src, "f1"), mtime, mtime))

	cfg := &Config{Recurse: true, PreservePerms: true, CheckTimes: 2}
	syncer := runSync(t, cfg, []string{src + "/"}, dst)

	assert.EqualString(t, readFile(t, filepath.Join(dst, "f1")), "hello")
	assert.EqualString(t, readFile(t, filepath.Join(dst, "sub", "f2")), "world")

	fi, err := os.Lstat(filepath.Join(dst, "f1"))
	assert.Ok(t, err)
	assert.Assert(t, fi.Mode().Perm() == 0751)
	assert.Assert(t, fi.ModTime().Equal(mtime))

	assert.Assert(t, syncer.Stats().Created == 3) // f1, sub, sub/f2
	assert.Assert(t, syncer.Stats().BytesCopied == 10)

	// converged destination: a second run changes nothing
	again := runSync(t, cfg, []string{src + "/"}, dst)
	assert.Assert(t, again.Stats().Created == 0)
	assert.Assert(t, again.Stats().Updated == 0)
	assert.Assert(t, again.Stats().Unchanged == 2) // dir-to-dir entries are recursion only, not counted
	assert.Assert(t, again.Stats().BytesCopied == 0)
}

func TestNamedObjectMode(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "f1"), "hello")

	// without a trailing slash the named directory itself lands in dst
	runSync(t, &Config{Recurse: true}, []string{src}, dst)

	assert.EqualString(t, readFile(t, filepath.Join(dst, "src", "f1")), "hello")
}

func TestNamedObjectModeNeverExpunges(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "f1"), "hello")
	writeFile(t, filepath.Join(dst, "unrelated"), "keep me")

	syncer := runSync(t, &Config{Recurse: true, Expunge: true}, []string{src}, dst)

	// dst legitimately holds entries this source does not know about
	assert.EqualString(t, readFile(t, filepath.Join(dst, "unrelated")), "keep me")
	assert.Assert(t, syncer.Stats().Removed == 0)
}

func TestExpunge(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "common"), "common")
	writeFile(t, filepath.Join(dst, "common"), "common")
	writeFile(t, filepath.Join(dst, "stale"), "stale")
	writeFile(t, filepath.Join(dst, "staledir", "child"), "child")

	syncer := runSync(t, &Config{Recurse: true, Expunge: true}, []string{src + "/"}, dst)

	assert.EqualString(t, readFile(t, filepath.Join(dst, "common")), "common")

	_, err := os.Lstat(filepath.Join(dst, "stale"))
	assert.Assert(t, os.IsNotExist(err))
	_, err = os.Lstat(filepath.Join(dst, "staledir"))
	assert.Assert(t, os.IsNotExist(err))

	assert.Assert(t, syncer.Stats().Removed == 3) // stale, staledir/child, staledir
}

func TestDigestGatedCopy(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	// same size, same mtime, different bytes: invisible without a digest
	writeFile(t, filepath.Join(src, "f"), "aaaaa")
	writeFile(t, filepath.Join(dst, "f"), "bbbbb")

	mtime := time.Date(2021, 6, 20, 12, 15, 28, 0, time.UTC)
	assert.Ok(t, os.Chtimes(filepath.Join(src, "f"), mtime, mtime))
	assert.Ok(t, os.Chtimes(filepath.Join(dst, "f"), mtime, mtime))

	syncer := runSync(t, &Config{Recurse: true, CheckTimes: 2}, []string{src + "/"}, dst)
	assert.Assert(t, syncer.Stats().Unchanged == 1)
	assert.EqualString(t, readFile(t, filepath.Join(dst, "f")), "bbbbb")

	syncer = runSync(t, &Config{Recurse: true, CheckTimes: 2, Digest: fsdigest.SHA256}, []string{src + "/"}, dst)
	assert.Assert(t, syncer.Stats().Updated == 1)
	assert.EqualString(t, readFile(t, filepath.Join(dst, "f")), "aaaaa")
}

func TestIdempotentAfterDigestTriggeredCopy(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	// same size and mtime, different bytes: only the digest differs, so
	// the post-copy timestamp reset is what makes run two converge
	writeFile(t, filepath.Join(src, "f"), "aaaaa")
	writeFile(t, filepath.Join(dst, "f"), "bbbbb")

	mtime := time.Date(2021, 6, 20, 12, 15, 28, 0, time.UTC)
	assert.Ok(t, os.Chtimes(filepath.Join(src, "f"), mtime, mtime))
	assert.Ok(t, os.Chtimes(filepath.Join(dst, "f"), mtime, mtime))

	first := runSync(t, &Config{Recurse: true, CheckTimes: 2, Digest: fsdigest.SHA256}, []string{src + "/"}, dst)
	assert.Assert(t, first.Stats().Updated == 1)

	fi, err := os.Lstat(filepath.Join(dst, "f"))
	assert.Ok(t, err)
	assert.Assert(t, fi.ModTime().Equal(mtime))

	second := runSync(t, &Config{Recurse: true, CheckTimes: 2, Digest: fsdigest.SHA256}, []string{src + "/"}, dst)
	assert.Assert(t, second.Stats().Unchanged == 1)
	assert.Assert(t, second.Stats().Updated == 0)
	assert.Assert(t, second.Stats().BytesCopied == 0)
}

func TestForceRecopiesUnchanged(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "f"), "hello")

	cfg := &Config{Recurse: true}
	runSync(t, cfg, []string{src + "/"}, dst)

	syncer := runSync(t, &Config{Recurse: true, Force: true}, []string{src + "/"}, dst)
	assert.Assert(t, syncer.Stats().Updated == 1)
	assert.Assert(t, syncer.Stats().BytesCopied == 5)
}

func TestDryRunMutatesNothing(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "f1"), "hello")
	writeFile(t, filepath.Join(src, "sub", "f2"), "world")

	syncer := runSync(t, &Config{Recurse: true, DryRun: true}, []string{src + "/"}, dst)

	// the would-be work is still reported
	assert.Assert(t, syncer.Stats().Created == 3)

	_, err := os.Lstat(dst)
	assert.Assert(t, os.IsNotExist(err))
}

func TestDryRunReportsRemovals(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	assert.Ok(t, os.MkdirAll(src, 0755))
	writeFile(t, filepath.Join(dst, "stale"), "stale")

	syncer := runSync(t, &Config{Recurse: true, Expunge: true, DryRun: true}, []string{src + "/"}, dst)

	assert.Assert(t, syncer.Stats().Removed == 1)
	assert.EqualString(t, readFile(t, filepath.Join(dst, "stale")), "stale")
}

func TestReplaceFileWithDir(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "x", "child"), "child")
	writeFile(t, filepath.Join(dst, "x"), "was a file")

	syncer := runSync(t, &Config{Recurse: true}, []string{src + "/"}, dst)

	assert.EqualString(t, readFile(t, filepath.Join(dst, "x", "child")), "child")
	assert.Assert(t, syncer.Stats().Updated == 1)
}

func TestReplaceDirWithFile(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "x"), "now a file")
	writeFile(t, filepath.Join(dst, "x", "child"), "child")

	runSync(t, &Config{Recurse: true, Expunge: true}, []string{src + "/"}, dst)

	assert.EqualString(t, readFile(t, filepath.Join(dst, "x")), "now a file")
}

func TestSymlinkSync(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	assert.Ok(t, os.MkdirAll(src, 0755))
	assert.Ok(t, os.Symlink("target-a", filepath.Join(src, "link")))

	cfg := &Config{Recurse: true}
	runSync(t, cfg, []string{src + "/"}, dst)

	target, err := os.Readlink(filepath.Join(dst, "link"))
	assert.Ok(t, err)
	assert.EqualString(t, target, "target-a")

	// retargeted source link propagates as a re-create
	assert.Ok(t, os.Remove(filepath.Join(src, "link")))
	assert.Ok(t, os.Symlink("target-b", filepath.Join(src, "link")))

	syncer := runSync(t, cfg, []string{src + "/"}, dst)
	assert.Assert(t, syncer.Stats().Updated == 1)

	target, err = os.Readlink(filepath.Join(dst, "link"))
	assert.Ok(t, err)
	assert.EqualString(t, target, "target-b")
}

func TestSkipContent(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "f"), "new content!")
	writeFile(t, filepath.Join(dst, "f"), "old")

	syncer := runSync(t, &Config{Recurse: true, SkipContent: true}, []string{src + "/"}, dst)

	// size differs so the entry counts as updated, but no bytes move
	assert.Assert(t, syncer.Stats().Updated == 1)
	assert.Assert(t, syncer.Stats().BytesCopied == 0)
	assert.EqualString(t, readFile(t, filepath.Join(dst, "f")), "old")
}

func TestSkipContentNewFileWithMetadataFlags(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "f"), "hello")

	// no file gets materialized, so metadata flags must not try to
	// decorate the nonexistent path
	syncer := runSync(t, &Config{Recurse: true, SkipContent: true, PreservePerms: true, CheckTimes: 2}, []string{src + "/"}, dst)

	assert.Assert(t, syncer.Stats().Created == 1)
	assert.Assert(t, syncer.Stats().Errors == 0)

	_, err := os.Lstat(filepath.Join(dst, "f"))
	assert.Assert(t, os.IsNotExist(err))
}

func TestMultipleSources(t *testing.T) {
	tmp := t.TempDir()
	srcA := filepath.Join(tmp, "a")
	srcB := filepath.Join(tmp, "b")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(srcA, "from-a"), "a")
	writeFile(t, filepath.Join(srcB, "from-b"), "b")

	runSync(t, &Config{Recurse: true}, []string{srcA + "/", srcB + "/"}, dst)

	assert.EqualString(t, readFile(t, filepath.Join(dst, "from-a")), "a")
	assert.EqualString(t, readFile(t, filepath.Join(dst, "from-b")), "b")
}

func TestMissingSourceIsAnError(t *testing.T) {
	tmp := t.TempDir()

	cfg := &Config{}
	assert.Ok(t, cfg.CaptureIdentity())

	err := New(cfg, nil).Run(context.Background(), []string{filepath.Join(tmp, "nope")}, filepath.Join(tmp, "dst"))
	assert.Assert(t, err != nil)
}

func TestIgnoreErrorsKeepsGoing(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "a"), "a")
	writeFile(t, filepath.Join(src, "z"), "z")

	// a directory blocking the file's place makes createObject fail
	writeFile(t, filepath.Join(src, "m"), "m")
	assert.Ok(t, os.MkdirAll(dst, 0755))
	assert.Ok(t, os.MkdirAll(filepath.Join(dst, "m", "occupied"), 0755))

	cfg := &Config{} // no recursion: dst/m stays a dir, src/m wants a file over it
	assert.Ok(t, cfg.CaptureIdentity())
	cfg.IgnoreErrors = true

	syncer := New(cfg, nil)
	assert.Ok(t, syncer.Run(context.Background(), []string{src + "/"}, dst))

	// the failing entry got logged and skipped; its siblings still synced
	assert.Assert(t, syncer.Stats().Errors > 0)
	assert.EqualString(t, readFile(t, filepath.Join(dst, "a")), "a")
	assert.EqualString(t, readFile(t, filepath.Join(dst, "z")), "z")
}

func TestCanceledContextStopsTraversal(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")

	writeFile(t, filepath.Join(src, "f"), "hello")

	cfg := &Config{Recurse: true}
	assert.Ok(t, cfg.CaptureIdentity())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(cfg, nil).Run(ctx, []string{src + "/"}, dst)
	assert.Assert(t, err == context.Canceled)
}
