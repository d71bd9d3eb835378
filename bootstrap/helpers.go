package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// EnsureLogDir creates the alert log directory and checks it is writable.
// It runs before any sink is opened so a bad path fails with a remediation
// hint instead of a bare open error.
func EnsureLogDir(dir string, sugar *zap.SugaredLogger) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path for %s: %w", dir, err)
	}

	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w\n"+
			"  Remediation: Ensure the parent directory exists and is writable,\n"+
			"  or set sinks.log_dir / VIGIL_LOG_DIR to a writable location", dir, err)
	}

	probe := filepath.Join(absPath, ".vigil_write_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("log directory %s is not writable: %w\n"+
			"  Remediation: Check file system permissions on %s", dir, err, absPath)
	}
	_ = os.Remove(probe)

	sugar.Debugw("Log directory ready", "path", absPath)
	return nil
}

// ClassifyConnectionError explains a failure to reach a network sink
func ClassifyConnectionError(err error, service, addr string) string {
	if err == nil {
		return ""
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Remediation:\n"+
			"  - Check that %s is running and reachable\n"+
			"  - Check for a firewall between this host and %s", service, addr, service, addr)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) || containsIgnoreCase(opErr.Error(), "refused") {
			return fmt.Sprintf("Connection refused by %s at %s.\n"+
				"  This usually means %s is not running.\n"+
				"  Remediation:\n"+
				"  - Start %s or correct the address in the config file", service, addr, service, service)
		}
	}

	msg := err.Error()
	if containsIgnoreCase(msg, "no such host") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname or use an IP address", service, addr)
	}
	if containsIgnoreCase(msg, "noauth") || containsIgnoreCase(msg, "wrongpass") || containsIgnoreCase(msg, "password") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify the password in the config file", service, addr)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v", service, addr, err)
}

// ClassifySQLiteError explains a failure to open the SQLite database
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)

	switch {
	case containsIgnoreCase(msg, "permission denied") || containsIgnoreCase(msg, "access denied"):
		return fmt.Sprintf("Permission denied accessing SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check permissions on %s and %s", absPath, absPath, parentDir)

	case containsIgnoreCase(msg, "database is locked") || containsIgnoreCase(msg, "SQLITE_BUSY"):
		return fmt.Sprintf("SQLite database at %s is locked by another process.\n"+
			"  Possible causes:\n"+
			"  - Another Vigil instance uses the same storage.sqlite_path\n"+
			"  Remediation:\n"+
			"  - Stop the other instance or point storage.sqlite_path elsewhere", absPath)

	case containsIgnoreCase(msg, "disk full") || containsIgnoreCase(msg, "no space") || containsIgnoreCase(msg, "SQLITE_FULL"):
		return fmt.Sprintf("Disk full - cannot write to SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Free up space in %s", absPath, parentDir)

	case containsIgnoreCase(msg, "corrupt") || containsIgnoreCase(msg, "malformed"):
		return fmt.Sprintf("SQLite database at %s appears to be corrupted.\n"+
			"  Remediation:\n"+
			"  - Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  - Move the file aside; Vigil recreates the schema on start", absPath, absPath)

	case containsIgnoreCase(msg, "read-only"):
		return fmt.Sprintf("SQLite database location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Set storage.sqlite_path or VIGIL_SQLITE_PATH to a writable location", absPath)
	}

	return fmt.Sprintf("Failed to initialize SQLite database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s exists and is writable", absPath, err, parentDir)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
