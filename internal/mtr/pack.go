// ABOUTME: Registers the next-train capability pack: tools, resources, prompts.
// ABOUTME: Resolves free-text line and station input before hitting the API.

package mtr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/transit-gateway/internal/capability"
	"github.com/2389/transit-gateway/internal/resolve"
)

// Pack bundles the schedule client with the alias tables and knows
// how to register itself on a capability registry.
type Pack struct {
	client   *Client
	stations *resolve.Table
	lines    *resolve.Table
	logger   *slog.Logger
}

// NewPack builds a pack with the static network alias tables.
func NewPack(client *Client, logger *slog.Logger) *Pack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pack{
		client:   client,
		stations: StationTable(),
		lines:    LineTable(),
		logger:   logger.With("component", "mtr"),
	}
}

// LoadAliasOverlay merges operator-supplied aliases into the tables.
func (p *Pack) LoadAliasOverlay(path string) error {
	return LoadAliasOverlay(path, p.stations, p.lines)
}

// scheduleInputSchema is shared by both tools: line and station are
// required free text, language is optional and constrained.
func scheduleInputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"line": {
				Type:        "string",
				Description: "MTR line name or code, e.g. \"Tseung Kwan O Line\" or \"TKL\"",
			},
			"sta": {
				Type:        "string",
				Description: "Station name or code, e.g. \"Tseung Kwan O\" or \"TKO\"",
			},
			"lang": {
				Type:        "string",
				Description: "Response language",
				Enum:        []any{"EN", "TC"},
			},
		},
		Required: []string{"line", "sta"},
	}
}

// scheduleArgs extracts and resolves the shared tool arguments. The
// schema has already guaranteed types and presence.
func (p *Pack) scheduleArgs(args map[string]any) (line, sta, lang string) {
	rawLine, _ := args["line"].(string)
	rawSta, _ := args["sta"].(string)
	lang, _ = args["lang"].(string)

	line = p.lines.Resolve(rawLine)
	sta = p.stations.Resolve(rawSta)

	if !strings.EqualFold(rawLine, line) || !strings.EqualFold(rawSta, sta) {
		p.logger.Debug("resolved schedule query",
			"line_input", rawLine, "line", line,
			"sta_input", rawSta, "sta", sta,
		)
	}
	return line, sta, lang
}

// StructuredSchedule is the machine-readable tool output.
type StructuredSchedule struct {
	ResolvedLine    string    `json:"resolved_line"`
	ResolvedStation string    `json:"resolved_station"`
	Timestamp       string    `json:"timestamp,omitempty"`
	Up              []Train   `json:"up"`
	Down            []Train   `json:"down"`
	Error           *APIError `json:"error,omitempty"`
	Suggestions     []string  `json:"suggestions,omitempty"`
}

// Register adds the two tools, two resources, and three prompts.
func (p *Pack) Register(reg *capability.Registry) error {
	tools := []*capability.Tool{
		{
			Name:        "get_next_train_schedule",
			Description: "Get the next train arrivals for an MTR line and station as readable text. Accepts station and line names or codes.",
			InputSchema: scheduleInputSchema(),
			Handler:     p.handleSchedule,
		},
		{
			Name:        "get_next_train_structured",
			Description: "Get next train arrivals as structured JSON for programmatic use. Accepts station and line names or codes.",
			InputSchema: scheduleInputSchema(),
			Handler:     p.handleScheduleStructured,
		},
	}
	for _, t := range tools {
		if err := reg.RegisterTool(t); err != nil {
			return fmt.Errorf("registering tool %s: %w", t.Name, err)
		}
	}

	resources := []*capability.Resource{
		{
			URI:         "mtr://stations/list",
			Name:        "MTR Station Reference",
			Description: "Complete list of MTR stations with codes, grouped by line",
			MIMEType:    "text/markdown",
			Reader: func(ctx context.Context) (*capability.ResourceContents, error) {
				return &capability.ResourceContents{
					URI:      "mtr://stations/list",
					MIMEType: "text/markdown",
					Text:     StationListMarkdown(),
				}, nil
			},
		},
		{
			URI:         "mtr://lines/map",
			Name:        "MTR Line Map",
			Description: "Line connectivity and interchange stations",
			MIMEType:    "text/markdown",
			Reader: func(ctx context.Context) (*capability.ResourceContents, error) {
				return &capability.ResourceContents{
					URI:      "mtr://lines/map",
					MIMEType: "text/markdown",
					Text:     lineMapMarkdown,
				}, nil
			},
		},
	}
	for _, res := range resources {
		if err := reg.RegisterResource(res); err != nil {
			return fmt.Errorf("registering resource %s: %w", res.URI, err)
		}
	}

	prompts := []*capability.Prompt{
		{
			Name:        "check_next_train",
			Description: "Quick train schedule check for one station",
			Arguments: []capability.PromptArgument{
				{Name: "line", Description: "MTR line name or code", Required: true},
				{Name: "station", Description: "Station name or code", Required: true},
			},
			Renderer: promptText(func(args map[string]string) string {
				return fmt.Sprintf(`Check the next train arrival at %s station on the %s line.

Please use the get_next_train_schedule tool to:
1. Get real-time train schedules
2. Show both upbound and downbound trains
3. Highlight the next arriving train
4. Mention any service delays

Respond in a friendly, conversational way.`, args["station"], args["line"])
			}),
		},
		{
			Name:        "plan_mtr_journey",
			Description: "Plan an MTR journey between two stations",
			Arguments: []capability.PromptArgument{
				{Name: "origin", Description: "Starting station", Required: true},
				{Name: "destination", Description: "Destination station", Required: true},
			},
			Renderer: promptText(func(args map[string]string) string {
				return fmt.Sprintf(`Help me plan an MTR journey from %s to %s.

Please:
1. Use the mtr://lines/map resource to find the route
2. Check next trains at %s using get_next_train_schedule
3. Identify any interchange stations needed
4. Estimate total journey time
5. Provide step-by-step directions

Be helpful and mention the platform numbers and train destinations.`, args["origin"], args["destination"], args["origin"])
			}),
		},
		{
			Name:        "compare_stations",
			Description: "Compare train frequencies at two or three stations",
			Arguments: []capability.PromptArgument{
				{Name: "station1", Description: "First station", Required: true},
				{Name: "station2", Description: "Second station", Required: true},
				{Name: "station3", Description: "Optional third station"},
			},
			Renderer: promptText(func(args map[string]string) string {
				stations := []string{args["station1"], args["station2"]}
				if args["station3"] != "" {
					stations = append(stations, args["station3"])
				}
				return fmt.Sprintf(`Compare the next train arrivals at these stations: %s

Please use get_next_train_structured for each station to:
1. Get structured train data programmatically
2. Extract wait times for upbound and downbound trains
3. Compare which station has the soonest train
4. Recommend the best station based on timing

Present the comparison in a clear table format.`, strings.Join(stations, ", "))
			}),
		},
	}
	for _, pr := range prompts {
		if err := reg.RegisterPrompt(pr); err != nil {
			return fmt.Errorf("registering prompt %s: %w", pr.Name, err)
		}
	}

	return nil
}

// promptText adapts a plain text template into a single-user-message
// renderer.
func promptText(render func(args map[string]string) string) capability.PromptRenderer {
	return func(ctx context.Context, args map[string]string) ([]capability.PromptMessage, error) {
		return []capability.PromptMessage{
			{Role: "user", Content: capability.TextContent(render(args))},
		}, nil
	}
}

func (p *Pack) handleSchedule(ctx context.Context, args map[string]any) (*capability.ToolResult, error) {
	line, sta, lang := p.scheduleArgs(args)

	resp, err := p.client.Schedule(ctx, line, sta, lang)
	if err != nil {
		return capability.ErrorResult(fmt.Sprintf("Schedule request failed: %v", err)), nil
	}

	text := FormatSchedule(resp, line, sta)
	if resp.Error != nil {
		return capability.ErrorResult(text), nil
	}
	return capability.TextResult(text), nil
}

func (p *Pack) handleScheduleStructured(ctx context.Context, args map[string]any) (*capability.ToolResult, error) {
	line, sta, lang := p.scheduleArgs(args)

	out := StructuredSchedule{
		ResolvedLine:    line,
		ResolvedStation: sta,
		Up:              []Train{},
		Down:            []Train{},
	}

	resp, err := p.client.Schedule(ctx, line, sta, lang)
	if err != nil {
		out.Error = &APIError{Code: "FETCH", Msg: err.Error()}
		out.Suggestions = []string{"Check network or API status", "Try again later"}
		return structuredResult(out, true), nil
	}

	out.Timestamp = resp.CurrTime
	if resp.Error != nil {
		out.Error = resp.Error
		out.Suggestions = []string{
			"Check the station name or code",
			fmt.Sprintf("Try using the station code (e.g., %s)", sta),
			"Try again later if real-time data is unavailable",
		}
		return structuredResult(out, true), nil
	}

	platform, ok := resp.Platform()
	if !ok {
		out.Error = &APIError{Code: "NT-204", Msg: "The contents are empty!"}
		out.Suggestions = []string{"Station may not have realtime data right now"}
		return structuredResult(out, true), nil
	}

	out.Up = platform.Up
	out.Down = platform.Down
	return structuredResult(out, false), nil
}

func structuredResult(out StructuredSchedule, isError bool) *capability.ToolResult {
	summary := fmt.Sprintf("%d upbound and %d downbound trains at %s",
		len(out.Up), len(out.Down), StationName(out.ResolvedStation))
	if out.Error != nil {
		summary = fmt.Sprintf("%s: %s", out.Error.Code, out.Error.Msg)
	}
	return &capability.ToolResult{
		Content:           []capability.Content{capability.TextContent(summary)},
		StructuredContent: out,
		IsError:           isError,
	}
}

// StationListMarkdown renders the station reference resource from the
// static network data so it can never drift from the alias tables.
func StationListMarkdown() string {
	var b strings.Builder
	b.WriteString("# MTR Station Reference\n\n")
	fmt.Fprintf(&b, "Complete list of all MTR stations across %d lines:\n\n", len(Lines))
	for _, line := range Lines {
		fmt.Fprintf(&b, "## %s - %s\n\n", line.Code, line.Name)
		for i, sta := range line.Stations {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%s)", sta.Name, sta.Code)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

const lineMapMarkdown = `# MTR Line Map & Interchanges

## Complete Interchange Stations (21 stations)

All stations where multiple MTR lines intersect at the same physical station:

| Station Name | Code | Connecting Lines |
|--------------|------|------------------|
| Admiralty | ADM | EAL, ISL, SIL, TWL |
| Central | CEN | ISL, TWL |
| Diamond Hill | DIH | KTL, TML |
| Ho Man Tin | HOM | KTL, TML |
| Hong Kong | HOK | AEL, TCL |
| Hung Hom | HUH | EAL, TML |
| Kowloon | KOW | AEL, TCL |
| Kowloon Tong | KOT | EAL, KTL |
| Lai King | LAK | TCL, TWL |
| Mei Foo | MEF | TML, TWL |
| Mong Kok | MOK | KTL, TWL |
| Nam Cheong | NAC | TCL, TML |
| North Point | NOP | ISL, TKL |
| Prince Edward | PRE | KTL, TWL |
| Quarry Bay | QUB | ISL, TKL |
| Sunny Bay | SUN | DRL, TCL |
| Tai Wai | TAW | EAL, TML |
| Tiu Keng Leng | TIK | KTL, TKL |
| Tsing Yi | TSY | AEL, TCL |
| Yau Ma Tei | YMT | KTL, TWL |
| Yau Tong | YAT | KTL, TKL |
`
