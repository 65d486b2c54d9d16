package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	transfer "github.com/input-output-hk/catalyst-forge-libs/aws/transfer"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// jobFlags are the per-job overrides shared by upload and download.
type jobFlags struct {
	partSize    string
	contentType string
	quiet       bool

	recursive     bool
	include       []string
	exclude       []string
	skipUnchanged bool
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.partSize, "part-size", "", `part size for this transfer, e.g. "16MiB"`)
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not render progress")
	cmd.Flags().BoolVarP(&f.recursive, "recursive", "r", false, "transfer a whole directory or prefix")
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "with --recursive, only transfer matching paths")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "with --recursive, skip matching paths")
	cmd.Flags().BoolVar(&f.skipUnchanged, "skip-unchanged", false,
		"with --recursive, skip files whose destination has the same size and is not older")
}

func (f *jobFlags) apply(spec *xfertypes.JobSpec) error {
	if f.partSize != "" {
		n, err := humanize.ParseBytes(f.partSize)
		if err != nil {
			return fmt.Errorf("invalid --part-size %q: %w", f.partSize, err)
		}
		spec.PartSize = int64(n)
	}
	spec.ContentType = f.contentType
	return nil
}

func (f *jobFlags) batchOptions() (transfer.BatchOptions, error) {
	var tmpl xfertypes.JobSpec
	if err := f.apply(&tmpl); err != nil {
		return transfer.BatchOptions{}, err
	}
	return transfer.BatchOptions{
		Include:       f.include,
		Exclude:       f.exclude,
		SkipUnchanged: f.skipUnchanged,
		PartSize:      tmpl.PartSize,
		ContentType:   tmpl.ContentType,
	}, nil
}

func newUploadCmd(a *app) *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "upload <local-path> <s3://bucket/key>",
		Short: "Upload a local file, or a directory with --recursive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if flags.recursive {
				dest, err := parsePrefixURL(args[1])
				if err != nil {
					return err
				}
				opts, err := flags.batchOptions()
				if err != nil {
					return err
				}
				return a.withManager(cmd.Context(), func(m *transfer.Manager) error {
					return a.runBatch(cmd.Context(), out, m, "upload", flags.quiet, func(ctx context.Context) ([]xfertypes.JobID, error) {
						return m.UploadDir(ctx, args[0], dest, opts)
					})
				})
			}

			obj, err := parseObjectURL(args[1])
			if err != nil {
				return err
			}
			spec := xfertypes.JobSpec{Kind: xfertypes.KindUpload, LocalPath: args[0], Remote: obj}
			if err := flags.apply(&spec); err != nil {
				return err
			}
			return a.withManager(cmd.Context(), func(m *transfer.Manager) error {
				return a.runJob(cmd.Context(), out, m, spec, flags.quiet)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.contentType, "content-type", "", "content type (default: detected from the file)")
	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "download <s3://bucket/key> <local-path>",
		Short: "Download an object, or every object under a prefix with --recursive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if flags.recursive {
				src, err := parsePrefixURL(args[0])
				if err != nil {
					return err
				}
				opts, err := flags.batchOptions()
				if err != nil {
					return err
				}
				return a.withManager(cmd.Context(), func(m *transfer.Manager) error {
					return a.runBatch(cmd.Context(), out, m, "download", flags.quiet, func(ctx context.Context) ([]xfertypes.JobID, error) {
						return m.DownloadPrefix(ctx, src, args[1], opts)
					})
				})
			}

			obj, err := parseObjectURL(args[0])
			if err != nil {
				return err
			}
			spec := xfertypes.JobSpec{Kind: xfertypes.KindDownload, LocalPath: args[1], Remote: obj}
			if err := flags.apply(&spec); err != nil {
				return err
			}
			return a.withManager(cmd.Context(), func(m *transfer.Manager) error {
				return a.runJob(cmd.Context(), out, m, spec, flags.quiet)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// withManager builds a manager from the loaded config, runs fn and closes the
// manager, waiting for in-flight cleanup.
func (a *app) withManager(ctx context.Context, fn func(*transfer.Manager) error) error {
	opts := append(a.cfg.Options(), transfer.WithLogger(a.log))
	m, err := transfer.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Transfer.FinalizeTimeout+5*time.Second)
		defer cancel()
		if err := m.Close(closeCtx); err != nil {
			a.log.WithError(err).Warn("manager close failed")
		}
	}()
	return fn(m)
}

// runJob submits spec and renders its progress until it finishes. Cancelling
// ctx cancels the job and still waits for its cleanup.
func (a *app) runJob(ctx context.Context, out io.Writer, m *transfer.Manager, spec xfertypes.JobSpec, quiet bool) error {
	id, err := m.Submit(ctx, spec)
	if err != nil {
		return err
	}
	sub := m.Subscribe(id)
	defer sub.Close()

	bar := newProgressBar(out, progressLabel(spec))
	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			a.log.WithField("job_id", id).Warn("interrupted, cancelling transfer")
			if err := m.Cancel(context.Background(), id); err != nil {
				return err
			}
		case ev, ok := <-sub.C():
			if !ok {
				return fmt.Errorf("transfer %s: event stream closed", id)
			}
			if !quiet {
				bar.Update(ev)
			}
			if !ev.State.Terminal() {
				continue
			}
			if !quiet {
				bar.Finish(ev)
			}
			if ev.State != xfertypes.StateCompleted {
				return fmt.Errorf("transfer %s: %w", ev.State, ev.Err)
			}
			return nil
		}
	}
}

// runBatch submits jobs through submit and waits for all of them, printing
// one line per finished job. Cancelling ctx cancels whatever is unfinished.
func (a *app) runBatch(
	ctx context.Context,
	out io.Writer,
	m *transfer.Manager,
	verb string,
	quiet bool,
	submit func(context.Context) ([]xfertypes.JobID, error),
) error {
	// subscribe first so no terminal event is missed between submit and wait
	sub := m.Subscribe("")
	defer sub.Close()

	ids, submitErr := submit(ctx)
	if submitErr != nil {
		a.log.WithError(submitErr).WithField("submitted", len(ids)).Error("batch submission stopped")
	}

	tally := newBatchTally(ids)
	interrupted := ctx.Done()
	if submitErr != nil {
		interrupted = nil
		tally.cancelAll(m)
	}
	for !tally.done() {
		select {
		case <-interrupted:
			interrupted = nil
			a.log.WithField("pending", tally.pending()).Warn("interrupted, cancelling transfers")
			tally.cancelAll(m)
		case ev, ok := <-sub.C():
			if !ok {
				return fmt.Errorf("%s: event stream closed", verb)
			}
			if !tally.record(ev) || quiet {
				continue
			}
			fmt.Fprintln(out, renderProgress(fmt.Sprintf("%s [%d/%d]", verb, tally.finished(), len(ids)), ev))
		}
	}

	if !quiet {
		fmt.Fprintf(out, "%s: %d completed, %d failed, %d cancelled, %s transferred\n",
			verb, tally.counts[xfertypes.StateCompleted], tally.counts[xfertypes.StateFailed],
			tally.counts[xfertypes.StateCancelled], humanize.IBytes(uint64(tally.bytes)))
	}
	if submitErr != nil {
		return submitErr
	}
	if n := len(ids) - tally.counts[xfertypes.StateCompleted]; n > 0 {
		return fmt.Errorf("%s: %d of %d transfers did not complete", verb, n, len(ids))
	}
	return nil
}

// batchTally tracks the terminal states of a batch's jobs.
type batchTally struct {
	want   map[xfertypes.JobID]bool
	seen   map[xfertypes.JobID]bool
	counts map[xfertypes.State]int
	bytes  int64
}

func newBatchTally(ids []xfertypes.JobID) *batchTally {
	t := &batchTally{
		want:   make(map[xfertypes.JobID]bool, len(ids)),
		seen:   make(map[xfertypes.JobID]bool, len(ids)),
		counts: make(map[xfertypes.State]int),
	}
	for _, id := range ids {
		t.want[id] = true
	}
	return t
}

// record notes ev and reports whether it finished one of the batch's jobs.
func (t *batchTally) record(ev xfertypes.Event) bool {
	if !ev.State.Terminal() || !t.want[ev.JobID] || t.seen[ev.JobID] {
		return false
	}
	t.seen[ev.JobID] = true
	t.counts[ev.State]++
	t.bytes += ev.BytesDone
	return true
}

func (t *batchTally) finished() int { return len(t.seen) }
func (t *batchTally) pending() int  { return len(t.want) - len(t.seen) }
func (t *batchTally) done() bool    { return t.pending() == 0 }

func (t *batchTally) cancelAll(m *transfer.Manager) {
	for id := range t.want {
		if !t.seen[id] {
			_ = m.Cancel(context.Background(), id)
		}
	}
}

func progressLabel(spec xfertypes.JobSpec) string {
	if spec.Kind == xfertypes.KindUpload {
		return "upload " + spec.Remote.Key
	}
	return "download " + spec.Remote.Key
}

// parseObjectURL splits "s3://bucket/key".
func parseObjectURL(raw string) (xfertypes.Object, error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return xfertypes.Object{}, fmt.Errorf("invalid object URL %q: expected s3://bucket/key", raw)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return xfertypes.Object{}, fmt.Errorf("invalid object URL %q: expected s3://bucket/key", raw)
	}
	return xfertypes.Object{Bucket: bucket, Key: key}, nil
}

// parsePrefixURL splits "s3://bucket" or "s3://bucket/prefix".
func parsePrefixURL(raw string) (xfertypes.Object, error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if !ok || bucket == "" {
		return xfertypes.Object{}, fmt.Errorf("invalid prefix URL %q: expected s3://bucket[/prefix]", raw)
	}
	return xfertypes.Object{Bucket: bucket, Key: prefix}, nil
}

// stdoutIsTerminal reports whether progress can be redrawn in place.
func stdoutIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
