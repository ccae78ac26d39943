// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Axion-inc/DesktopAgent/internal/api"
	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/executor"
	"github.com/Axion-inc/DesktopAgent/internal/l4monitor"
	"github.com/Axion-inc/DesktopAgent/internal/manifest"
	"github.com/Axion-inc/DesktopAgent/internal/osadapter"
	"github.com/Axion-inc/DesktopAgent/internal/plannerl2"
	"github.com/Axion-inc/DesktopAgent/internal/policy"
	"github.com/Axion-inc/DesktopAgent/internal/queue"
	"github.com/Axion-inc/DesktopAgent/internal/store"
	"github.com/Axion-inc/DesktopAgent/internal/trust"
	"github.com/Axion-inc/DesktopAgent/internal/validator"
	"github.com/Axion-inc/DesktopAgent/internal/verifier"
	"github.com/Axion-inc/DesktopAgent/internal/webengine"
)

// serverOptions carries the trigger settings that have no home in
// config.Config yet (folder/webhook backends aren't part of the
// declared configuration surface) — left as server-only flags rather
// than growing Config for a feature only the long-running process uses.
type serverOptions struct {
	templatesDir  string
	watchDir      string
	webhookPort   string
	webhookSecret string
	redisAddr     string
	redisPassword string
	redisDB       int
	webhookWindow time.Duration

	notifyEmailHost string
	notifyEmailPort int
	notifyEmailUser string
	notifyEmailPass string
	notifyEmailFrom string
	notifyEmailTo   string
	notifyWebhook   string
}

func newServerCmd() *cobra.Command {
	opts := serverOptions{webhookWindow: 10 * time.Minute}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the always-on HTTP facade, queue workers, and schedule/folder/webhook triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts)
		},
	}
	cmd.Flags().StringVar(&opts.templatesDir, "templates-dir", "templates", "directory of plan templates, resolved by name for scheduled/triggered runs")
	cmd.Flags().StringVar(&opts.watchDir, "watch-dir", "", "directory to watch for a folder trigger (disabled if empty)")
	cmd.Flags().StringVar(&opts.webhookPort, "webhook-addr", "", "HTTP address to serve POST /webhooks/run on (disabled if empty)")
	cmd.Flags().StringVar(&opts.webhookSecret, "webhook-secret", "", "HMAC-SHA256 secret validating inbound webhook deliveries")
	cmd.Flags().StringVar(&opts.redisAddr, "webhook-redis-addr", "localhost:6379", "redis address backing webhook event_id dedup")
	cmd.Flags().StringVar(&opts.redisPassword, "webhook-redis-password", "", "redis password backing webhook event_id dedup")
	cmd.Flags().IntVar(&opts.redisDB, "webhook-redis-db", 0, "redis DB index backing webhook event_id dedup")
	cmd.Flags().StringVar(&opts.notifyEmailHost, "notify-email-host", "", "SMTP host for deviation-stop alerts (disabled if empty)")
	cmd.Flags().IntVar(&opts.notifyEmailPort, "notify-email-port", 587, "SMTP port for deviation-stop alerts")
	cmd.Flags().StringVar(&opts.notifyEmailUser, "notify-email-user", "", "SMTP username for deviation-stop alerts")
	cmd.Flags().StringVar(&opts.notifyEmailPass, "notify-email-pass", "", "SMTP password for deviation-stop alerts")
	cmd.Flags().StringVar(&opts.notifyEmailFrom, "notify-email-from", "", "SMTP From address for deviation-stop alerts")
	cmd.Flags().StringVar(&opts.notifyEmailTo, "notify-email-to", "", "recipient address for deviation-stop alerts")
	cmd.Flags().StringVar(&opts.notifyWebhook, "notify-webhook-url", "", "URL to POST deviation-stop alerts to (disabled if empty)")
	return cmd
}

// runTracker hands a submitted plan and its resolved (unmasked)
// variables from the goroutine that enqueued a run to the worker
// goroutine that later dequeues it. The store only durably keeps the
// plan's name and its masked variables, not the live Plan or its
// secrets, so a queued run with no entry here (for example one enqueued
// before the process restarted) is not executed: handle returns an error
// for it.
type runTracker struct {
	mu   sync.Mutex
	runs map[int64]queuedRun
}

type queuedRun struct {
	plan      *dslmodel.Plan
	variables map[string]interface{}
}

func newRunTracker() *runTracker { return &runTracker{runs: make(map[int64]queuedRun)} }

func (t *runTracker) put(runID int64, qr queuedRun) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[runID] = qr
}

func (t *runTracker) take(runID int64) (queuedRun, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	qr, ok := t.runs[runID]
	delete(t.runs, runID)
	return qr, ok
}

// deskServer owns the full long-running process graph: the read-only
// HTTP facade, one queue.Pool per configured orchestrator queue, and
// whichever triggers were enabled by flag.
type deskServer struct {
	opts      serverOptions
	exec      *executor.Executor
	tracker   *runTracker
	manager   *queue.Manager
	queueCfg  map[string]config.QueueConfig
	web       webengine.Engine
	adapter   osadapter.OSAdapter
}

func runServer(opts serverOptions) error {
	if err := svc.Config.EnsureDirs(); err != nil {
		return fail(ExitIOError, fmt.Errorf("ensure dirs: %w", err))
	}

	ctx, cancel := signalContext()
	defer cancel()

	adapter := osadapter.NewDefaultAdapter(svc.Config.Artifacts.ScreenshotsDir, false)
	web, err := webengine.Dial(ctx, svc.Config.WebEngine.Endpoint, time.Duration(svc.Config.WebEngine.TimeoutMs)*time.Millisecond)
	if err != nil {
		return fail(ExitExecutionFailed, fmt.Errorf("connect web engine: %w", err))
	}
	defer web.Close()

	dispatcher := executor.NewDispatcher(adapter, web)
	v := verifier.New(web, adapter)
	broker := executor.NewApprovalBroker([]byte(svc.Config.Server.ApprovalJWTKey))
	exec := executor.New(dispatcher, v, svc.Store, broker)
	exec.PlannerL2 = plannerl2.New(svc.Config.Policy.AdoptPolicy)

	var notifier l4monitor.Notifier = l4monitor.NoopNotifier{}
	if opts.notifyEmailHost != "" || opts.notifyWebhook != "" {
		notifier = l4monitor.NewCompositeNotifier(
			l4monitor.EmailConfig{
				Host: opts.notifyEmailHost, Port: opts.notifyEmailPort,
				Username: opts.notifyEmailUser, Password: opts.notifyEmailPass,
				From: opts.notifyEmailFrom, DefaultTo: opts.notifyEmailTo,
			},
			l4monitor.WebhookConfig{URL: opts.notifyWebhook},
		)
	}

	monitor, err := l4monitor.New(svc.Config.Policy, svc.Store, notifier)
	if err != nil {
		return fail(ExitIOError, fmt.Errorf("build monitor: %w", err))
	}
	exec.Monitor = monitor

	srv := &deskServer{
		opts:     opts,
		exec:     exec,
		tracker:  newRunTracker(),
		manager:  queue.NewManager(),
		queueCfg: svc.Config.Orchestrator,
		web:      web,
		adapter:  adapter,
	}

	g, gctx := errgroup.WithContext(ctx)

	httpAPI := api.NewServer(svc.Config, svc.Store, svc.Metrics, broker)
	g.Go(func() error { return httpAPI.Start(gctx) })

	for _, q := range srv.declaredQueues() {
		queueName, pool := q.name, q.pool
		g.Go(func() error {
			svc.Log.Infof("starting queue worker pool %q", queueName)
			return pool.Run(gctx)
		})
	}

	stopTriggers, err := srv.startTriggers(gctx)
	if err != nil {
		return fail(ExitIOError, fmt.Errorf("start triggers: %w", err))
	}
	defer stopTriggers()

	if opts.webhookPort != "" {
		webhookSrv := srv.newWebhookHTTPServer()
		g.Go(func() error { return runHTTPUntilDone(gctx, webhookSrv) })
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return fail(ExitExecutionFailed, err)
	}
	return nil
}

// signalContext derives a context cancelled on SIGINT/SIGTERM, the way
// a supervised long-running process shuts down cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

type declaredQueue struct {
	name string
	pool *queue.Pool
}

// declaredQueues materializes a queue.Queue and a worker Pool for every
// entry in config.Orchestrator, falling back to a single unbounded
// "default" queue when none are declared (spec §6: orchestrator is
// optional; a deployment with no schedules/webhooks still runs `run`
// submissions through a queue).
func (s *deskServer) declaredQueues() []declaredQueue {
	cfgs := s.queueCfg
	if len(cfgs) == 0 {
		cfgs = map[string]config.QueueConfig{"default": {MaxConcurrent: 1}}
	}
	out := make([]declaredQueue, 0, len(cfgs))
	for name, cfg := range cfgs {
		q := s.manager.Declare(name, 0)
		handler := func(ctx context.Context, item *queue.Item) error {
			return s.handle(ctx, item)
		}
		out = append(out, declaredQueue{name: name, pool: queue.NewPool(q, cfg.MaxConcurrent, handler)})
	}
	return out
}

// handle turns one dequeued queue.Item into an executed Run using the
// plan and variables the tracker holds for it. When the tracker has no
// entry for the run, handle returns an error; the plan is not reloaded
// from templatesDir.
func (s *deskServer) handle(ctx context.Context, item *queue.Item) error {
	qr, ok := s.tracker.take(item.RunID)
	if !ok {
		return fmt.Errorf("run %d: no tracked plan/variables to replay", item.RunID)
	}

	final, err := s.exec.Run(ctx, executor.RunInput{
		RunID:     item.RunID,
		Plan:      qr.plan,
		Variables: qr.variables,
		Secrets:   svc.Secrets,
		Evidence: executor.EvidenceConfig{
			Screenshots:   true,
			ScreenshotDir: svc.Config.Artifacts.ScreenshotsDir,
		},
	})
	if err != nil {
		svc.Log.Errorf("run %d: %v", item.RunID, err)
		return err
	}
	switch final {
	case store.RunCompleted:
		svc.Metrics.RunCompleted(time.Now(), 0)
	case store.RunFailed, store.RunCancelled:
		svc.Metrics.RunFailed(time.Now(), 0)
	}
	return nil
}

// submitRun validates and policy-checks a freshly loaded plan, persists
// the Run, and — if policy allows it — tracks it and enqueues it onto
// its declared queue. It mirrors `run`'s own submission path but never
// blocks on execution: a queue.Pool worker runs the plan later.
func (s *deskServer) submitRun(plan *dslmodel.Plan, variables map[string]interface{}) (int64, error) {
	res := validator.Validate(plan)
	res.Issues = append(res.Issues, validator.ValidateVariables(plan).Issues...)
	if !res.Valid() {
		return 0, fmt.Errorf("%d validation issue(s) in plan %q", len(res.Issues), plan.Name)
	}

	resolved := make(map[string]interface{}, len(plan.Variables)+len(variables))
	for k, v := range plan.Variables {
		resolved[k] = v
	}
	for k, v := range variables {
		resolved[k] = v
	}

	m := manifest.Derive(plan)
	ctx := context.Background()

	runID, err := svc.Store.CreateRun(ctx, &store.RunRecord{
		PublicID:          uuid.NewString(),
		PlanRef:           plan.Name,
		VariablesResolved: svc.Secrets.MaskValue(resolved).(map[string]interface{}),
		Manifest:          m,
		State:             store.RunQueued,
		Queue:             queueNameOf(plan),
		Priority:          priorityOf(plan),
		CreatedAt:         time.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}

	sig := policy.SignatureVerification{}
	if plan.Signature != nil {
		sig.Performed = true
		result := trust.Verify(plan, svc.Trust, trust.LevelUnknown, time.Now())
		sig.TrustLevel = result.Entry.TrustLevel
		if result.Err != nil {
			sig.FailReason = result.Err.Message
		} else {
			sig.Valid = true
		}
	}

	caps := s.adapter.Capabilities(ctx)
	avail := make(policy.AvailableCapabilities, len(caps))
	for name, info := range caps {
		avail[name] = info.Available
	}

	decision := policy.Evaluate(m, svc.Config.Policy, sig, avail, time.Now())
	for _, check := range decision.Checks {
		if err := svc.Store.SavePolicyDecision(ctx, runID, check, time.Now()); err != nil {
			svc.Log.Warnf("persist policy decision %s for run %d: %v", check.Check, runID, err)
		}
	}

	if !decision.Allowed {
		svc.Metrics.PolicyBlock(time.Now())
		if err := svc.Store.UpdateRunState(ctx, runID, store.RunFailed, time.Now()); err != nil {
			svc.Log.Warnf("persist POLICY_BLOCKED state for run %d: %v", runID, err)
		}
		return runID, fmt.Errorf("run %d blocked by policy", runID)
	}

	s.tracker.put(runID, queuedRun{plan: plan, variables: resolved})

	q := s.manager.Declare(queueNameOf(plan), 0)
	if err := q.Enqueue(&queue.Item{RunID: runID, Priority: priorityOf(plan)}); err != nil {
		return runID, fmt.Errorf("enqueue run %d: %w", runID, err)
	}
	return runID, nil
}

func (s *deskServer) loadTemplate(name string) (*dslmodel.Plan, error) {
	path := filepath.Join(s.opts.templatesDir, name+".yaml")
	return loadPlan(path)
}

// startTriggers wires the cron and folder triggers the process was
// configured with, returning a func that stops all of them. The webhook
// listener is started separately, from newWebhookHTTPServer.
func (s *deskServer) startTriggers(ctx context.Context) (func(), error) {
	var stops []func()

	cron, err := queue.NewCronTrigger(svc.Config.Schedules, func(sched config.ScheduleConfig) error {
		plan, err := s.loadTemplate(sched.Template)
		if err != nil {
			return fmt.Errorf("load template %q: %w", sched.Template, err)
		}
		vars := make(map[string]interface{}, len(sched.Variables))
		for k, v := range sched.Variables {
			vars[k] = v
		}
		_, err = s.submitRun(plan, vars)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("build cron trigger: %w", err)
	}
	cron.Start()
	stops = append(stops, cron.Stop)

	if s.opts.watchDir != "" {
		folder, err := queue.NewFolderTrigger(s.opts.watchDir, 500, func(path string) error {
			plan, err := loadPlan(path)
			if err != nil {
				return fmt.Errorf("load triggered plan %q: %w", path, err)
			}
			_, err = s.submitRun(plan, nil)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("build folder trigger: %w", err)
		}
		stops = append(stops, func() { _ = folder.Close() })
	}

	return func() {
		for _, stop := range stops {
			stop()
		}
	}, nil
}

// webhookRequest is the body a webhook delivery is expected to carry:
// the template to run plus its variable overrides.
type webhookRequest struct {
	Template  string            `json:"template"`
	Variables map[string]string `json:"variables"`
}

// newWebhookHTTPServer exposes POST /webhooks/run, validating each
// delivery's HMAC signature and deduplicating by event_id via Redis
// before enqueuing a run (spec §4.H).
func (s *deskServer) newWebhookHTTPServer() *http.Server {
	trigger := queue.NewWebhookTrigger(s.opts.redisAddr, s.opts.redisPassword, s.opts.redisDB, s.opts.webhookSecret, s.opts.webhookWindow, func(eventID string, body []byte) error {
		var req webhookRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("decode webhook body: %w", err)
		}
		plan, err := s.loadTemplate(req.Template)
		if err != nil {
			return fmt.Errorf("load template %q: %w", req.Template, err)
		}
		vars := make(map[string]interface{}, len(req.Variables))
		for k, v := range req.Variables {
			vars[k] = v
		}
		_, err = s.submitRun(plan, vars)
		return err
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		eventID := r.Header.Get("X-Event-Id")
		sig := r.Header.Get("X-Signature")
		if err := trigger.Handle(r.Context(), eventID, body, sig); err != nil {
			switch err {
			case queue.ErrBadSignature:
				http.Error(w, err.Error(), http.StatusUnauthorized)
			case queue.ErrDuplicateEvent:
				w.WriteHeader(http.StatusOK)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return &http.Server{Addr: s.opts.webhookPort, Handler: mux}
}

// runHTTPUntilDone runs srv until ctx is cancelled, then shuts it down
// gracefully — the same shape api.Server.Start uses, reused here for
// the webhook listener.
func runHTTPUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
