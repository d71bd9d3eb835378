package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type failingVerifier struct {
	calls int
}

func (f *failingVerifier) Verify(ctx context.Context, imagePath string) (SignatureResult, error) {
	f.calls++
	return SignatureResult{}, errors.New("catalog unavailable")
}

type slowVerifier struct{}

func (slowVerifier) Verify(ctx context.Context, imagePath string) (SignatureResult, error) {
	<-ctx.Done()
	return SignatureResult{}, ctx.Err()
}

func newTestEvaluator(t *testing.T, verifier SignatureVerifier) *TrustEvaluator {
	t.Helper()
	allow := core.NewAllowlist([]string{"google llc", "microsoft corporation"}, []string{`\explorer.exe`})
	eval, err := NewTrustEvaluator(allow, verifier, 16, 50*time.Millisecond, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return eval
}

func TestTrustEvaluator_Classify(t *testing.T) {
	verifier := NewStaticVerifier(map[string]SignatureResult{
		chromeImage:           {Signed: true, Trusted: true, Subject: "CN=Google LLC"},
		`C:\Tools\vendor.exe`: {Signed: true, Trusted: true, Subject: "CN=Unknown Vendor"},
		`C:\Tools\selfsig.exe`: {Signed: true, Trusted: false, Subject: "CN=Google LLC"},
	})
	eval := newTestEvaluator(t, verifier)

	tests := []struct {
		name    string
		pid     uint32
		image   string
		verdict core.TrustVerdict
		signer  string
	}{
		{"kernel idle", 0, "", core.VerdictTrusted, ""},
		{"kernel system", 4, "", core.VerdictTrusted, ""},
		{"allowlisted name", 10, `C:\Windows\Explorer.EXE`, core.VerdictTrusted, ""},
		{"trusted signer", 11, chromeImage, core.VerdictTrusted, "CN=Google LLC"},
		{"signer not allowlisted", 12, `C:\Tools\vendor.exe`, core.VerdictUntrusted, "CN=Unknown Vendor"},
		{"untrusted chain", 13, `C:\Tools\selfsig.exe`, core.VerdictUntrusted, "CN=Google LLC"},
		{"unsigned", 14, evilImage, core.VerdictUntrusted, ""},
		{"unknown image", 15, "", core.VerdictUntrusted, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &core.ProcessRecord{PID: tt.pid, ImagePath: tt.image}
			eval.Evaluate(context.Background(), rec)
			assert.Equal(t, tt.verdict, rec.Verdict)
			assert.Equal(t, tt.signer, rec.SignerSubject)
			assert.NotEmpty(t, rec.TrustReason)
		})
	}
}

func TestTrustEvaluator_MemoizesPerImage(t *testing.T) {
	verifier := testVerifier()
	eval := newTestEvaluator(t, verifier)

	for pid := uint32(100); pid < 110; pid++ {
		rec := &core.ProcessRecord{PID: pid, ImagePath: chromeImage}
		eval.Evaluate(context.Background(), rec)
		assert.True(t, rec.IsTrusted())
	}
	upper := &core.ProcessRecord{PID: 200, ImagePath: `C:\PROGRAM FILES\GOOGLE\CHROME\APPLICATION\CHROME.EXE`}
	eval.Evaluate(context.Background(), upper)
	assert.True(t, upper.IsTrusted())

	assert.Equal(t, 1, verifier.Calls(chromeImage))
	assert.Equal(t, 1, eval.CacheLen())
}

func TestTrustEvaluator_ErrorIsUntrustedAndMemoized(t *testing.T) {
	verifier := &failingVerifier{}
	eval := newTestEvaluator(t, verifier)

	for pid := uint32(1); pid <= 3; pid++ {
		rec := &core.ProcessRecord{PID: pid + 100, ImagePath: `C:\Tools\x.exe`}
		eval.Evaluate(context.Background(), rec)
		assert.Equal(t, core.VerdictUntrusted, rec.Verdict)
		assert.Contains(t, rec.TrustReason, "catalog unavailable")
	}
	assert.Equal(t, 1, verifier.calls)
}

func TestTrustEvaluator_Timeout(t *testing.T) {
	eval := newTestEvaluator(t, slowVerifier{})
	rec := &core.ProcessRecord{PID: 300, ImagePath: `C:\Tools\hang.exe`}

	start := time.Now()
	eval.Evaluate(context.Background(), rec)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, core.VerdictUntrusted, rec.Verdict)
	assert.Contains(t, rec.TrustReason, context.DeadlineExceeded.Error())
}

func TestTrustEvaluator_VerdictIsTerminal(t *testing.T) {
	verifier := testVerifier()
	eval := newTestEvaluator(t, verifier)

	rec := &core.ProcessRecord{PID: 400, ImagePath: evilImage}
	rec.SetVerdict(core.VerdictTrusted, "", "preset")
	eval.Evaluate(context.Background(), rec)

	assert.Equal(t, core.VerdictTrusted, rec.Verdict)
	assert.Equal(t, "preset", rec.TrustReason)
	assert.Equal(t, 0, verifier.Calls(evilImage))
}

func TestTrustEvaluator_NoVerifier(t *testing.T) {
	eval := newTestEvaluator(t, nil)

	allowed := &core.ProcessRecord{PID: 10, ImagePath: explorerImage}
	eval.Evaluate(context.Background(), allowed)
	assert.True(t, allowed.IsTrusted())

	other := &core.ProcessRecord{PID: 11, ImagePath: chromeImage}
	eval.Evaluate(context.Background(), other)
	assert.True(t, other.IsUntrusted())
}

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier(map[string]SignatureResult{
		`C:\A.exe`: {Signed: true, Trusted: true, Subject: "CN=A"},
	})

	res, err := v.Verify(context.Background(), `c:\a.exe`)
	require.NoError(t, err)
	assert.Equal(t, "CN=A", res.Subject)

	res, err = v.Verify(context.Background(), `C:\b.exe`)
	require.NoError(t, err)
	assert.False(t, res.Signed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.Verify(ctx, `C:\A.exe`)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, v.Calls(`C:\A.EXE`))
}
