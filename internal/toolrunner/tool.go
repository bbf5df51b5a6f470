package toolrunner

import (
	"fmt"
	"strings"
	"time"

	"github.com/bl4ck0w1/scanrunner/pkg/models"
)

// Tool is one external recon binary plus the way it is checked and invoked.
type Tool struct {
	Name             string
	DisplayName      string
	Path             string
	VersionFlag      string
	ScanArgs         []string
	PreflightTimeout time.Duration
	ScanTimeout      time.Duration
	MinVersion       string
	SalvageOnTimeout bool
}

func NewTool(name string, cfg models.ToolConfig) (Tool, error) {
	if strings.TrimSpace(name) == "" {
		return Tool{}, fmt.Errorf("tool name must not be empty")
	}
	if cfg.Path == "" {
		return Tool{}, fmt.Errorf("tool %s: path must not be empty", name)
	}
	t := Tool{
		Name:             name,
		DisplayName:      cfg.DisplayName,
		Path:             cfg.Path,
		VersionFlag:      cfg.VersionFlag,
		ScanArgs:         append([]string(nil), cfg.ScanArgs...),
		PreflightTimeout: cfg.PreflightTimeout,
		ScanTimeout:      cfg.ScanTimeout,
		MinVersion:       strings.TrimSpace(cfg.MinVersion),
		SalvageOnTimeout: cfg.SalvageOnTimeout,
	}
	if t.DisplayName == "" {
		t.DisplayName = name
	}
	if t.PreflightTimeout <= 0 {
		t.PreflightTimeout = 5 * time.Second
	}
	if t.ScanTimeout <= 0 {
		t.ScanTimeout = 300 * time.Second
	}
	return t, nil
}

// ToolFromConfig resolves name against the configured tool table.
func ToolFromConfig(cfg *models.Config, name string) (Tool, error) {
	tc, ok := cfg.Tool(name)
	if !ok {
		return Tool{}, fmt.Errorf("unknown tool %q (configured: %s)", name, strings.Join(cfg.ToolNames(), ", "))
	}
	return NewTool(name, tc)
}

// Args substitutes the domain into the scan argument template.
func (t Tool) Args(domain string) []string {
	args := make([]string, len(t.ScanArgs))
	for i, a := range t.ScanArgs {
		args[i] = strings.ReplaceAll(a, models.DomainPlaceholder, domain)
	}
	return args
}

func (t Tool) CommandLine(domain string) string {
	return strings.Join(append([]string{t.Path}, t.Args(domain)...), " ")
}
