package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAlert() *AlertRecord {
	return &AlertRecord{
		Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC),
		PID:        5000,
		ImagePath:  `C:\Users\u\Downloads\evil.exe`,
		TargetPath: `c:\users\u\appdata\local\google\chrome\user data\default\login data`,
		RuleName:   "Chrome Passwords",
		EventID:    EventIDFileRead,
		Kind:       AlertDirectUntrustedAccess,
		Note:       "untrusted process attempted access to protected resource",
		Operation:  OpRead,
	}
}

func TestAlertRecord_TextLine(t *testing.T) {
	a := sampleAlert()
	assert.Equal(t,
		`2024-03-01T12:00:00.0000005Z | pid=5000 | image=C:\Users\u\Downloads\evil.exe | target=c:\users\u\appdata\local\google\chrome\user data\default\login data | rule=Chrome Passwords | event=15 | kind=DirectUntrustedAccess | note=untrusted process attempted access to protected resource`,
		a.TextLine())
}

func TestAlertRecord_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(sampleAlert())
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	for _, k := range []string{"timestamp", "pid", "image_path", "target_path", "rule_name", "event_id", "alert_kind", "note", "operation"} {
		assert.Contains(t, m, k)
	}
	assert.NotContains(t, m, "opener_pid", "opener fields are omitted for direct alerts")
}

func TestAlertRecord_Headline(t *testing.T) {
	a := sampleAlert()
	assert.Equal(t, "evil.exe touched Chrome Passwords", a.Headline())

	a.Operation = OpCreate
	assert.Equal(t, "evil.exe accessed Chrome Passwords", a.Headline())

	a.ImagePath = ""
	assert.Equal(t, "pid 5000 accessed Chrome Passwords", a.Headline())
}

func TestAlertRecord_BodyNamesOpener(t *testing.T) {
	a := sampleAlert()
	a.Kind = AlertAccessViaDuplicatedHandle
	a.OpenerPID = 1200
	a.OpenerImage = `C:\Program Files\Google\Chrome\chrome.exe`

	assert.Contains(t, a.Body(), "PID 1200 (chrome.exe)")
	assert.Equal(t, AlertKey{PID: 5000, RuleName: "Chrome Passwords", Path: a.TargetPath}, a.Key())
}

func TestAllowlist(t *testing.T) {
	al := NewAllowlist([]string{" Google LLC ", ""}, []string{"\\Chrome.exe", "msedge.exe"})
	assert.Equal(t, []string{"google llc"}, al.SignerSubjects)

	name, ok := al.MatchProcessName(`C:\Program Files\Google\Chrome\Application\CHROME.EXE`)
	assert.True(t, ok)
	assert.Equal(t, `\chrome.exe`, name)

	_, ok = al.MatchProcessName(`C:\temp\notchrome.exe.bak`)
	assert.False(t, ok)

	assert.True(t, al.MatchSigner("CN=Google LLC, O=Google LLC"))
	assert.False(t, al.MatchSigner("CN=Evil Corp"))
	assert.False(t, al.MatchSigner(""))

	open := NewAllowlist(nil, nil)
	assert.True(t, open.MatchSigner("anyone"), "empty signer list trusts every valid signature")
}

func TestProcessRecord_VerdictIsTerminal(t *testing.T) {
	p := &ProcessRecord{PID: 10}
	assert.False(t, p.SetVerdict(VerdictUnverified, "", ""))
	assert.True(t, p.SetVerdict(VerdictUntrusted, "", "unsigned"))
	assert.False(t, p.SetVerdict(VerdictTrusted, "x", "late"))
	assert.True(t, p.IsUntrusted())
	assert.Equal(t, "unsigned", p.TrustReason)

	text, err := p.Verdict.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "untrusted", string(text))
}

func TestImageBaseName(t *testing.T) {
	assert.Equal(t, "a.exe", ImageBaseName(`C:\x\a.exe`))
	assert.Equal(t, "bash", ImageBaseName("/usr/bin/bash"))
	assert.Equal(t, "SYSTEM", ImageBaseName("SYSTEM"))
	assert.Equal(t, "", ImageBaseName(" "))
}
