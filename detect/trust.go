package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// SignatureResult is the outcome of verifying one image's code signature
type SignatureResult struct {
	Signed  bool   `json:"signed" yaml:"signed"`
	Trusted bool   `json:"trusted" yaml:"trusted"`
	Subject string `json:"subject,omitempty" yaml:"subject"`
}

// SignatureVerifier checks the code signature of an image on disk.
// Implementations must be safe to call with a deadline on ctx.
type SignatureVerifier interface {
	Verify(ctx context.Context, imagePath string) (SignatureResult, error)
}

// ErrImageNotFound is returned by verifiers that know nothing about a path
var ErrImageNotFound = errors.New("image not found")

type trustOutcome struct {
	verdict core.TrustVerdict
	signer  string
	reason  string
	source  string
}

// TrustEvaluator assigns terminal verdicts to Unverified processes.
// Signature results are memoized per lower-cased image path, so every
// distinct binary is verified at most once per session.
type TrustEvaluator struct {
	allow    core.Allowlist
	verifier SignatureVerifier
	timeout  time.Duration
	memo     *lru.Cache[string, trustOutcome]
	logger   *zap.SugaredLogger
}

// NewTrustEvaluator creates an evaluator. verifier may be nil, in which case
// every image that is not allowlisted by name is untrusted.
func NewTrustEvaluator(allow core.Allowlist, verifier SignatureVerifier, cacheSize int, timeout time.Duration, logger *zap.SugaredLogger) (*TrustEvaluator, error) {
	memo, err := lru.New[string, trustOutcome](cacheSize)
	if err != nil {
		return nil, err
	}
	return &TrustEvaluator{
		allow:    allow,
		verifier: verifier,
		timeout:  timeout,
		memo:     memo,
		logger:   logger,
	}, nil
}

// Evaluate classifies rec if it is still Unverified. It never returns an
// error: every failure path ends in VerdictUntrusted with the reason set.
func (e *TrustEvaluator) Evaluate(ctx context.Context, rec *core.ProcessRecord) {
	if rec == nil || rec.Verdict != core.VerdictUnverified {
		return
	}

	out := e.classify(ctx, rec)
	if rec.SetVerdict(out.verdict, out.signer, out.reason) {
		metrics.TrustVerdicts.WithLabelValues(out.verdict.String(), out.source).Inc()
		e.logger.Debugw("Process trust assigned",
			"pid", rec.PID,
			"image", rec.ImagePath,
			"verdict", out.verdict.String(),
			"reason", out.reason)
	}
}

// CacheLen returns the number of memoized image verdicts
func (e *TrustEvaluator) CacheLen() int {
	return e.memo.Len()
}

func (e *TrustEvaluator) classify(ctx context.Context, rec *core.ProcessRecord) trustOutcome {
	if core.IsKernelPID(rec.PID) {
		return trustOutcome{verdict: core.VerdictTrusted, reason: "kernel process", source: "kernel"}
	}
	if name, ok := e.allow.MatchProcessName(rec.ImagePath); ok {
		return trustOutcome{
			verdict: core.VerdictTrusted,
			reason:  fmt.Sprintf("allowlisted process name %q", name),
			source:  "allowlist",
		}
	}
	if strings.TrimSpace(rec.ImagePath) == "" {
		return trustOutcome{verdict: core.VerdictUntrusted, reason: "image path unknown", source: "error"}
	}

	key := strings.ToLower(rec.ImagePath)
	if out, ok := e.memo.Get(key); ok {
		metrics.SignatureCacheHits.Inc()
		return out
	}

	out := e.verify(ctx, rec.ImagePath)
	if e.memo.Add(key, out) {
		metrics.TableEvictions.WithLabelValues("signature").Inc()
	}
	return out
}

func (e *TrustEvaluator) verify(ctx context.Context, image string) trustOutcome {
	if e.verifier == nil {
		return trustOutcome{verdict: core.VerdictUntrusted, reason: "no signature verifier configured", source: "error"}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := e.verifier.Verify(ctx, image)
	metrics.SignatureVerifyDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.SignatureVerifications.WithLabelValues("error").Inc()
		e.logger.Warnw("Signature verification failed", "image", image, "error", err)
		return trustOutcome{
			verdict: core.VerdictUntrusted,
			reason:  fmt.Sprintf("signature verification failed: %v", err),
			source:  "error",
		}
	case !res.Signed:
		metrics.SignatureVerifications.WithLabelValues("unsigned").Inc()
		return trustOutcome{verdict: core.VerdictUntrusted, reason: "image is not signed", source: "signature"}
	case !res.Trusted:
		metrics.SignatureVerifications.WithLabelValues("untrusted").Inc()
		return trustOutcome{
			verdict: core.VerdictUntrusted,
			signer:  res.Subject,
			reason:  "signature does not chain to a trusted root",
			source:  "signature",
		}
	case !e.allow.MatchSigner(res.Subject):
		metrics.SignatureVerifications.WithLabelValues("signer_denied").Inc()
		return trustOutcome{
			verdict: core.VerdictUntrusted,
			signer:  res.Subject,
			reason:  fmt.Sprintf("signer %q is not allowlisted", res.Subject),
			source:  "signature",
		}
	default:
		metrics.SignatureVerifications.WithLabelValues("trusted").Inc()
		return trustOutcome{
			verdict: core.VerdictTrusted,
			signer:  res.Subject,
			reason:  fmt.Sprintf("signed by %q", res.Subject),
			source:  "signature",
		}
	}
}

// StaticVerifier answers from a fixed table keyed by lower-cased image
// path. Unknown paths are reported as unsigned. It backs recorded scenario
// replay and tests.
type StaticVerifier struct {
	mu      sync.Mutex
	results map[string]SignatureResult
	calls   map[string]int
}

// NewStaticVerifier copies results into a new verifier
func NewStaticVerifier(results map[string]SignatureResult) *StaticVerifier {
	v := &StaticVerifier{
		results: make(map[string]SignatureResult, len(results)),
		calls:   make(map[string]int),
	}
	for path, res := range results {
		v.results[strings.ToLower(path)] = res
	}
	return v
}

// Verify implements SignatureVerifier
func (v *StaticVerifier) Verify(ctx context.Context, imagePath string) (SignatureResult, error) {
	if err := ctx.Err(); err != nil {
		return SignatureResult{}, err
	}
	key := strings.ToLower(imagePath)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[key]++
	return v.results[key], nil
}

// Calls returns how often path was verified
func (v *StaticVerifier) Calls(imagePath string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[strings.ToLower(imagePath)]
}
