package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"mockpit/internal/config"
	"mockpit/internal/mockserver"
	"mockpit/internal/models"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before the server starts
type Checker struct {
	api          mockserver.API
	settingsPath string
	demoPath     string
	probeTimeout time.Duration
}

// NewChecker creates a new preflight checker
func NewChecker(api mockserver.API, settingsPath, demoPath string) *Checker {
	return &Checker{
		api:          api,
		settingsPath: settingsPath,
		demoPath:     demoPath,
		probeTimeout: 5 * time.Second,
	}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkRemoteConnection(),
		c.checkSettingsFile(),
		c.checkDemoDataset(),
		c.checkEnvironmentVariables(),
	}

	// Print summary
	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("\n📊 Pre-flight summary: %d passed, %d failed, %d warnings\n", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkRemoteConnection probes the mock server admin API. An unreachable
// remote is a warning, not a failure: the cache serves the snapshot or the
// demo dataset until the server comes back.
func (c *Checker) checkRemoteConnection() CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), c.probeTimeout)
	defer cancel()

	mappings, err := c.api.ListMappings(ctx)
	if err != nil {
		return CheckResult{
			Name:    "Mock Server Connection",
			Status:  "warning",
			Message: "Mock server unreachable, starting in degraded mode",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Mock Server Connection",
		Status:  "pass",
		Message: fmt.Sprintf("Admin API reachable (%d mappings)", len(mappings)),
	}
}

// checkSettingsFile verifies the dashboard settings file parses and carries a
// valid cron override. A missing file is fine; defaults apply.
func (c *Checker) checkSettingsFile() CheckResult {
	data, err := os.ReadFile(c.settingsPath)
	if os.IsNotExist(err) {
		return CheckResult{
			Name:    "Settings File",
			Status:  "warning",
			Message: fmt.Sprintf("Settings file %s not found, using defaults", c.settingsPath),
		}
	}
	if err != nil {
		return CheckResult{
			Name:    "Settings File",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot read settings file %s", c.settingsPath),
			Error:   err,
		}
	}

	var settings models.DashboardSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return CheckResult{
			Name:    "Settings File",
			Status:  "fail",
			Message: fmt.Sprintf("Settings file %s is not valid JSON", c.settingsPath),
			Error:   err,
		}
	}

	if settings.ValidationCron != "" {
		if _, err := cron.ParseStandard(settings.ValidationCron); err != nil {
			return CheckResult{
				Name:    "Settings File",
				Status:  "fail",
				Message: fmt.Sprintf("Invalid validationCron %q", settings.ValidationCron),
				Error:   err,
			}
		}
	}

	return CheckResult{
		Name:    "Settings File",
		Status:  "pass",
		Message: "Settings file valid",
	}
}

// checkDemoDataset verifies the bundled offline fallback parses. Missing is a
// warning (no offline fallback); a file that exists but does not parse is a
// packaging error and fails hard.
func (c *Checker) checkDemoDataset() CheckResult {
	if _, err := os.Stat(c.demoPath); os.IsNotExist(err) {
		return CheckResult{
			Name:    "Demo Dataset",
			Status:  "warning",
			Message: fmt.Sprintf("Demo dataset %s not found, no offline fallback", c.demoPath),
		}
	}

	mappings, err := config.LoadDemoMappings(c.demoPath)
	if err != nil {
		return CheckResult{
			Name:    "Demo Dataset",
			Status:  "fail",
			Message: fmt.Sprintf("Demo dataset %s does not parse", c.demoPath),
			Error:   err,
		}
	}
	if len(mappings) == 0 {
		return CheckResult{
			Name:    "Demo Dataset",
			Status:  "warning",
			Message: "Demo dataset holds no mappings",
		}
	}

	return CheckResult{
		Name:    "Demo Dataset",
		Status:  "pass",
		Message: fmt.Sprintf("Demo dataset loaded (%d mappings)", len(mappings)),
	}
}

// checkEnvironmentVariables flags security-relevant settings that were left
// on their development defaults.
func (c *Checker) checkEnvironmentVariables() CheckResult {
	if os.Getenv("ADMIN_KEY") == "" {
		return CheckResult{
			Name:    "Environment Variables",
			Status:  "warning",
			Message: "ADMIN_KEY not set, mutating routes are unprotected",
		}
	}

	if os.Getenv("ALLOWED_ORIGINS") == "" {
		return CheckResult{
			Name:    "Environment Variables",
			Status:  "warning",
			Message: "ALLOWED_ORIGINS not set, using development defaults",
		}
	}

	return CheckResult{
		Name:    "Environment Variables",
		Status:  "pass",
		Message: "All environment variables configured",
	}
}

// QuickCheck runs the remote probe only, for fast startup paths.
func (c *Checker) QuickCheck() []CheckResult {
	log.Println("⚡ Running quick pre-flight checks...")

	results := []CheckResult{
		c.checkRemoteConnection(),
	}

	for _, result := range results {
		if result.Status == "pass" {
			log.Printf("   ✅ %s", result.Name)
		} else {
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
		}
	}

	return results
}
