// Package toolserver registers the usage query tools on an MCP stdio server.
// The gateway starts one server process per generation attempt and talks to
// it through the MCP tool-call protocol.
package toolserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"voltiq/internal/usage"
)

// Name and Version identify the tool server to MCP clients.
const (
	Name    = "electricity-usage"
	Version = "1.0.0"
)

// New builds an MCP server exposing the usage query tools over the given
// dataset snapshot. The tool names and schemas are the stable contract the
// model's tool catalog is built from.
func New(dataset *usage.Dataset, logger *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer(Name, Version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("get_daily_power_usage_by_month",
		mcp.WithDescription("Get the total daily power usage for every day of a given month."),
		mcp.WithString("month",
			mcp.Required(),
			mcp.Description("Month to query as two digits, e.g. 'January' is '01'."),
		),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		month, err := request.RequireString("month")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, err := dataset.DailyByMonth(month)
		return render(result, err, logger)
	})

	s.AddTool(mcp.NewTool("get_yearly_power_usage_summary",
		mcp.WithDescription("Summarize total power usage for all 12 months plus the yearly total."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return render(dataset.YearlySummary(), nil, logger)
	})

	s.AddTool(mcp.NewTool("get_high_power_usage_records",
		mcp.WithDescription(fmt.Sprintf("List every usage record above %.0f kW with its date and time.", usage.HighUsageThreshold)),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return render(dataset.HighUsage(), nil, logger)
	})

	s.AddTool(mcp.NewTool("get_power_usage_by_time_range",
		mcp.WithDescription("Get power usage for a date within a time-of-day window (both endpoints inclusive)."),
		mcp.WithString("date",
			mcp.Required(),
			mcp.Description("Date in MM/DD format, e.g. '04/01'."),
		),
		mcp.WithString("startTime",
			mcp.Required(),
			mcp.Description("Window start in HH:mm format, e.g. '08:00'."),
		),
		mcp.WithString("endTime",
			mcp.Required(),
			mcp.Description("Window end in HH:mm format, e.g. '10:00'."),
		),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		date, err := request.RequireString("date")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		start, err := request.RequireString("startTime")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		end, err := request.RequireString("endTime")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, err := dataset.TimeRange(date, start, end)
		return render(result, err, logger)
	})

	s.AddTool(mcp.NewTool("compare_power_usage",
		mcp.WithDescription("Compare power usage between two months, two dates, or two time ranges."),
		mcp.WithString("comparisonType",
			mcp.Required(),
			mcp.Description("One of: month, date, timeRange."),
		),
		mcp.WithString("firstPeriod",
			mcp.Required(),
			mcp.Description("First period: 'MM' for month, 'MM/DD' for date, 'MM/DD HH:mm-HH:mm' for timeRange."),
		),
		mcp.WithString("secondPeriod",
			mcp.Required(),
			mcp.Description("Second period, same format as firstPeriod."),
		),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind, err := request.RequireString("comparisonType")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		first, err := request.RequireString("firstPeriod")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		second, err := request.RequireString("secondPeriod")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, err := dataset.Compare(usage.CompareKind(kind), first, second)
		return render(result, err, logger)
	})

	return s
}

// render converts a query Result into an MCP tool result. Argument errors
// become tool error results; they never crash the server.
func render(result usage.Result, err error, logger *slog.Logger) (*mcp.CallToolResult, error) {
	if err != nil {
		if errors.Is(err, usage.ErrBadArgument) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		logger.Error("tool execution failed", "error", err)
		return mcp.NewToolResultError("tool execution failed: " + err.Error()), nil
	}

	switch r := result.(type) {
	case *usage.Text:
		return mcp.NewToolResultText(r.Message), nil

	case *usage.Table:
		out := mcp.NewToolResultText(r.Summary)
		if payload := chartPayload(r); payload != "" {
			out.Content = append(out.Content, mcp.NewTextContent(payload))
		}
		return out, nil

	default:
		return mcp.NewToolResultError("unknown result type"), nil
	}
}
