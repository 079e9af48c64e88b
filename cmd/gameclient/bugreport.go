package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/halfmap/gameclient/internal/config"
	"github.com/spf13/cobra"
)

const (
	bugreportLogLimit = 3
	redactedValue     = "***REDACTED***"
)

var (
	bugreportNowFn = func() time.Time {
		return time.Now().UTC()
	}
	bugreportHomeDirFn = os.UserHomeDir
	bugreportGetwdFn   = os.Getwd
)

var sensitiveTokens = []string{"account", "password", "secret", "token", "credential", "apikey", "api_key"}

// newBugreportCommand reads log_dir from config when it loads. A config that
// fails to load is reported in the README and the default log dir is used.
func newBugreportCommand(load func(context.Context) (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "bugreport",
		Short: "Collect recent logs and redacted config into a diagnostic archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logDir := ""
			var warnings []string
			if load != nil {
				cfg, err := load(cmd.Context())
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("unable to load config, using default log directory: %v", err))
				} else {
					logDir = cfg.LogDir
				}
			}
			return runBugReport(logDir, cmd.OutOrStdout(), warnings...)
		},
	}
}

func runBugReport(logDir string, out io.Writer, warnings ...string) error {
	homeDir, err := bugreportHomeDirFn()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	homeDir = filepath.Clean(homeDir)
	if strings.TrimSpace(homeDir) == "" || homeDir == "." {
		return fmt.Errorf("home directory is not valid")
	}

	cwd, err := bugreportGetwdFn()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	cwd = filepath.Clean(cwd)

	if strings.TrimSpace(logDir) == "" {
		logDir = filepath.Join(homeDir, ".gameclient", "logs")
	}

	timestamp := bugreportNowFn().Format("20060102-150405")
	bundlePath := filepath.Join(cwd, fmt.Sprintf(".gameclient-bugreport-%s.tar.gz", timestamp))

	stagingDir, err := os.MkdirTemp("", "gameclient-bugreport-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(stagingDir)
	}()

	report, err := collectBugreportArtifacts(homeDir, cwd, logDir, stagingDir)
	if err != nil {
		return err
	}
	report.Warnings = append(warnings, report.Warnings...)
	if err := writeBugreportREADME(stagingDir, report); err != nil {
		return err
	}
	if err := archiveBugreport(stagingDir, bundlePath); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(out, "Bug report written to: %s\n", bundlePath); err != nil {
		return fmt.Errorf("write bugreport output: %w", err)
	}
	return nil
}

type bugreportSummary struct {
	Timestamp string
	Version   string
	LogFiles  []string
	LastRun   lastRun
	Warnings  []string
}

// lastRun is what the newest log says about the most recent session.
type lastRun struct {
	RunID       string
	GameID      string
	Outcome     string
	Description string
}

func collectBugreportArtifacts(homeDir, cwd, logDir, stagingDir string) (bugreportSummary, error) {
	summary := bugreportSummary{
		Timestamp: bugreportNowFn().Format(time.RFC3339),
		Version:   Version,
		Warnings:  make([]string, 0),
	}

	logFiles, warnings := copyRecentLogs(logDir, stagingDir, bugreportLogLimit)
	summary.LogFiles = logFiles
	summary.Warnings = append(summary.Warnings, warnings...)

	summary.LastRun = extractLastRun(logFiles)
	if summary.LastRun.RunID == "" {
		summary.Warnings = append(summary.Warnings, "no run_id found in copied logs")
	}
	if err := writeLastRunFile(stagingDir, summary.LastRun); err != nil {
		return bugreportSummary{}, err
	}
	if err := writeVersionFile(stagingDir, summary.Version); err != nil {
		return bugreportSummary{}, err
	}

	configs := []struct {
		source string
		staged string
	}{
		{source: filepath.Join(homeDir, ".gameclient", "config.toml"), staged: "config-home.toml"},
		{source: filepath.Join(cwd, ".gameclient", "config.toml"), staged: "config-project.toml"},
	}
	for _, cfg := range configs {
		if err := copyRedactedConfig(cfg.source, filepath.Join(stagingDir, cfg.staged), &summary); err != nil {
			return bugreportSummary{}, err
		}
	}

	return summary, nil
}

func copyRecentLogs(logDir, stagingDir string, limit int) ([]string, []string) {
	files, err := newestFiles(logDir, limit)
	if err != nil {
		return nil, []string{fmt.Sprintf("unable to read logs directory: %v", err)}
	}

	destDir := filepath.Join(stagingDir, "logs")
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, []string{fmt.Sprintf("unable to create logs staging directory: %v", err)}
	}

	warnings := make([]string, 0)
	copiedPaths := make([]string, 0, len(files))
	for _, file := range files {
		// #nosec G304 -- source path comes from the log directory listing.
		data, readErr := os.ReadFile(file.path)
		if readErr != nil {
			warnings = append(warnings, fmt.Sprintf("unable to read log %s: %v", file.path, readErr))
			continue
		}
		dstPath := filepath.Join(destDir, filepath.Base(file.path))
		if writeErr := os.WriteFile(dstPath, data, 0o600); writeErr != nil {
			warnings = append(warnings, fmt.Sprintf("unable to stage log %s: %v", file.path, writeErr))
			continue
		}
		copiedPaths = append(copiedPaths, file.path)
	}
	return copiedPaths, warnings
}

// extractLastRun scans logs newest first and takes ids from the last record
// carrying a run_id, plus the termination record of that run if present.
func extractLastRun(logPaths []string) lastRun {
	for _, logPath := range logPaths {
		// #nosec G304 -- log paths come from the log directory listing.
		data, err := os.ReadFile(logPath)
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		var run lastRun
		for i := len(lines) - 1; i >= 0; i-- {
			record := map[string]any{}
			if err := json.Unmarshal([]byte(strings.TrimSpace(lines[i])), &record); err != nil {
				continue
			}
			if run.Outcome == "" && asString(record["msg"]) == "game terminated" {
				run.Outcome = asString(record["outcome"])
				run.Description = asString(record["description"])
			}
			if run.RunID == "" {
				run.RunID = asString(record["run_id"])
				run.GameID = asString(record["game_id"])
			}
			if run.RunID != "" && run.Outcome != "" {
				break
			}
		}
		if run.RunID != "" {
			return run
		}
	}
	return lastRun{}
}

func writeLastRunFile(stagingDir string, run lastRun) error {
	content := fmt.Sprintf(
		"run_id: %s\ngame_id: %s\noutcome: %s\ndescription: %s\n",
		run.RunID,
		run.GameID,
		run.Outcome,
		run.Description,
	)
	if err := os.WriteFile(filepath.Join(stagingDir, "last-run.txt"), []byte(content), 0o600); err != nil {
		return fmt.Errorf("write last-run.txt: %w", err)
	}
	return nil
}

func writeVersionFile(stagingDir, version string) error {
	content := fmt.Sprintf("gameclient version: %s\n", strings.TrimSpace(version))
	if err := os.WriteFile(filepath.Join(stagingDir, "version.txt"), []byte(content), 0o600); err != nil {
		return fmt.Errorf("write version.txt: %w", err)
	}
	return nil
}

func copyRedactedConfig(source, destination string, summary *bugreportSummary) error {
	// #nosec G304 -- config paths are fixed locations under home and the working directory.
	configData, err := os.ReadFile(source)
	if err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("unable to read config: %v", err))
		configData = []byte("# config unavailable\n")
	}
	if err := os.WriteFile(destination, []byte(redactSensitiveConfig(string(configData))), 0o600); err != nil {
		return fmt.Errorf("write redacted config: %w", err)
	}
	return nil
}

// redactSensitiveConfig masks values of TOML keys that look like secrets or
// identify the player.
func redactSensitiveConfig(configText string) string {
	lines := strings.Split(configText, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "[") {
			continue
		}
		key, _, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		if !isSensitiveKey(strings.ToLower(strings.TrimSpace(key))) {
			continue
		}
		lines[i] = key + `= "` + redactedValue + `"`
	}
	return strings.Join(lines, "\n")
}

func isSensitiveKey(key string) bool {
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func writeBugreportREADME(stagingDir string, summary bugreportSummary) error {
	builder := strings.Builder{}
	builder.WriteString("gameclient bug report\n")
	builder.WriteString("=====================\n\n")
	builder.WriteString(fmt.Sprintf("Generated: %s\n", summary.Timestamp))
	builder.WriteString(fmt.Sprintf("Version: %s\n", summary.Version))
	builder.WriteString(fmt.Sprintf("run_id: %s\n", summary.LastRun.RunID))
	builder.WriteString(fmt.Sprintf("game_id: %s\n", summary.LastRun.GameID))
	builder.WriteString(fmt.Sprintf("outcome: %s\n\n", summary.LastRun.Outcome))
	builder.WriteString("Included artifacts:\n")
	builder.WriteString(fmt.Sprintf("- logs/ (up to last %d log files)\n", bugreportLogLimit))
	builder.WriteString("- config-home.toml, config-project.toml (redacted)\n")
	builder.WriteString("- version.txt\n")
	builder.WriteString("- last-run.txt\n")
	if len(summary.Warnings) > 0 {
		builder.WriteString("\nWarnings:\n")
		for _, warning := range summary.Warnings {
			builder.WriteString("- " + warning + "\n")
		}
	}

	if err := os.WriteFile(filepath.Join(stagingDir, "README.txt"), []byte(builder.String()), 0o600); err != nil {
		return fmt.Errorf("write README.txt: %w", err)
	}
	return nil
}

func archiveBugreport(stagingDir, destination string) error {
	// #nosec G304 -- destination is generated in the working directory with a fixed name pattern.
	archiveFile, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", destination, err)
	}
	defer func() {
		_ = archiveFile.Close()
	}()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer func() {
		_ = gzipWriter.Close()
	}()

	tarWriter := tar.NewWriter(gzipWriter)
	defer func() {
		_ = tarWriter.Close()
	}()

	walkErr := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("read file info for %s: %w", path, err)
		}
		relPath, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return fmt.Errorf("compute archive path for %s: %w", path, err)
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("create tar header for %s: %w", path, err)
		}
		header.Name = filepath.ToSlash(relPath)
		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar header for %s: %w", path, err)
		}

		// #nosec G304 -- walk paths originate from the staging directory.
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s for archive: %w", path, err)
		}
		defer file.Close()
		if _, err := io.Copy(tarWriter, file); err != nil {
			return fmt.Errorf("copy %s into archive: %w", path, err)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("archive bugreport: %w", walkErr)
	}
	return nil
}

type datedFile struct {
	path    string
	modTime time.Time
}

func newestFiles(dir string, limit int) ([]datedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]datedFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, datedFile{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func asString(value any) string {
	typed, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(typed)
}
