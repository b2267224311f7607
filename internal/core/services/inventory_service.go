package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/fleecy/participant/internal/config"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/infrastructure/metrics"
)

// Inventory providers
const (
	InventoryProviderOpenStack = "openstack"
	InventoryProviderStatic    = "static"
)

// CommandRunner runs a local shell command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

// BashRunner runs commands through bash so that "source" and "~" work.
type BashRunner struct{}

func (BashRunner) Run(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("command timed out: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

type InventoryService struct {
	cfg    config.InventoryConfig
	runner CommandRunner
	policy *AddressPolicy
	logger *logger.Logger
}

func NewInventoryService(cfg config.InventoryConfig, runner CommandRunner, policy *AddressPolicy, log *logger.Logger) *InventoryService {
	if runner == nil {
		runner = BashRunner{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &InventoryService{
		cfg:    cfg,
		runner: runner,
		policy: policy,
		logger: log,
	}
}

// ListVMs returns the current inventory. Every failure degrades to an empty
// list; the call never blocks longer than the configured timeout.
func (s *InventoryService) ListVMs(ctx context.Context) []domain.VMRecord {
	provider := s.cfg.Provider
	if provider == "" {
		provider = InventoryProviderOpenStack
	}

	var output string
	switch provider {
	case InventoryProviderStatic:
		output = s.staticListing()
	case InventoryProviderOpenStack:
		queryCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		out, err := s.runner.Run(queryCtx, s.listCommand())
		if err != nil {
			s.logger.Errorw("inventory_query_failed", "provider", provider, "error", err)
			metrics.InventoryQueriesTotal.WithLabelValues(provider, metrics.ResultFailure).Inc()
			return []domain.VMRecord{}
		}
		output = out
	default:
		s.logger.Errorw("inventory_provider_unknown", "provider", provider)
		metrics.InventoryQueriesTotal.WithLabelValues(provider, metrics.ResultFailure).Inc()
		return []domain.VMRecord{}
	}

	vms := ParseServerList(output, s.policy)
	metrics.InventoryQueriesTotal.WithLabelValues(provider, metrics.ResultSuccess).Inc()
	metrics.InventoryVMs.Set(float64(len(vms)))
	s.logger.Debugw("inventory_query_ok", "provider", provider, "count", len(vms))
	return vms
}

// FindVM resolves id against a fresh inventory listing.
func (s *InventoryService) FindVM(ctx context.Context, id string) (*domain.VMRecord, error) {
	for _, vm := range s.ListVMs(ctx) {
		if vm.ID == id {
			return &vm, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrVMNotFound, id)
}

func (s *InventoryService) listCommand() string {
	if s.cfg.Command != "" {
		return s.cfg.Command
	}
	return fmt.Sprintf(
		"cd %s && source openrc %s %s && openstack server list --format value --column ID --column Networks",
		s.cfg.DevstackPath, s.cfg.OpenRCUser, s.cfg.OpenRCProject,
	)
}

func (s *InventoryService) staticListing() string {
	var b strings.Builder
	for _, vm := range s.cfg.Static {
		fmt.Fprintf(&b, "%s %s\n", vm.ID, vm.Networks)
	}
	return b.String()
}

// ParseServerList parses "<id> <networks>" lines as printed by
// "openstack server list --format value". Lines without a networks column
// are skipped.
func ParseServerList(output string, policy *AddressPolicy) []domain.VMRecord {
	vms := []domain.VMRecord{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.IndexFunc(line, unicode.IsSpace)
		if idx < 0 {
			continue
		}
		id := line[:idx]
		networks := strings.TrimSpace(line[idx:])

		addrs := ParseNetworks(networks)
		vm := domain.VMRecord{ID: id, Addresses: addrs}
		if policy != nil {
			vm.FloatingIP = policy.Select(addrs)
		} else if len(addrs) > 0 {
			vm.FloatingIP = addrs[len(addrs)-1].Address
		}
		vms = append(vms, vm)
	}
	return vms
}

// ParseNetworks accepts either a mapping of network name to address list
// (Python literal or JSON) or a flat comma separated list of "net=addr" and
// bare address tokens. Addresses keep the order they were printed in.
func ParseNetworks(raw string) []domain.NetworkAddress {
	if addrs, ok := parseStructuredNetworks(raw); ok {
		return addrs
	}
	return parseFlatNetworks(raw)
}

func parseStructuredNetworks(raw string) ([]domain.NetworkAddress, bool) {
	if !strings.HasPrefix(raw, "{") {
		return nil, false
	}

	// json.Decoder tokens keep key order, which a map would lose.
	dec := json.NewDecoder(strings.NewReader(strings.ReplaceAll(raw, "'", "\"")))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, false
	}

	addrs := []domain.NetworkAddress{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		network, ok := keyTok.(string)
		if !ok {
			return nil, false
		}

		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		items, ok := value.([]interface{})
		if !ok {
			continue
		}
		for _, item := range items {
			addr, ok := item.(string)
			if !ok || strings.TrimSpace(addr) == "" {
				continue
			}
			addrs = append(addrs, domain.NetworkAddress{Network: network, Address: strings.TrimSpace(addr)})
		}
	}

	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, false
	}
	return addrs, true
}

func parseFlatNetworks(raw string) []domain.NetworkAddress {
	addrs := []domain.NetworkAddress{}
	network := ""
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		addr := token
		if i := strings.LastIndex(token, "="); i >= 0 {
			network = strings.TrimSpace(token[:strings.Index(token, "=")])
			addr = strings.TrimSpace(token[i+1:])
		}
		if addr == "" {
			continue
		}
		addrs = append(addrs, domain.NetworkAddress{Network: network, Address: addr})
	}
	return addrs
}
