package ui

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zendure-tools/zendure-poller/internal/discovery"
)

// Param is one key/value line of a header or result
type Param struct {
	Key   string
	Value string
}

// Printer writes styled, non-interactive command output
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// SetWidth overrides the detected terminal width
func (p *Printer) SetWidth(width int) *Printer {
	p.width = clampWidth(width)
	return p
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params ...Param) {
	p.Println(RenderHeader(title, command, params, p.width))
}

// PrintEndpoints prints one block per discovered device
func (p *Printer) PrintEndpoints(endpoints []*discovery.Endpoint) {
	if len(endpoints) == 0 {
		p.Println(StaleStyle.Render("  No Zendure devices found"))
		return
	}

	p.Println(FreshStyle.Render(fmt.Sprintf("  Found %d device(s)", len(endpoints))))
	for _, ep := range endpoints {
		p.Println("")
		p.PrintEndpoint(ep)
	}
}

// PrintEndpoint prints the details of one resolved device
func (p *Printer) PrintEndpoint(ep *discovery.Endpoint) {
	p.Println("  " + lipgloss.NewStyle().Bold(true).Render(ep.Name))
	for _, param := range EndpointDetails(ep) {
		p.Println(renderDetail(param))
	}
}

// PrintError prints a failure line
func (p *Printer) PrintError(title string, err error) {
	p.Println(ErrorMessageStyle.Bold(true).Render("  " + FailureMarker + "  " + title))
	if err != nil {
		p.Println(ErrorMessageStyle.Render("     " + err.Error()))
	}
}

// PrintSuccess prints a success line followed by details
func (p *Printer) PrintSuccess(title string, details ...Param) {
	p.Println(FreshStyle.Render("  " + SuccessMarker + "  " + title))
	for _, d := range details {
		p.Println(renderDetail(d))
	}
}

// EndpointDetails lists the printable fields of an endpoint
func EndpointDetails(ep *discovery.Endpoint) []Param {
	details := []Param{
		{"Address", ep.Address()},
		{"URL", ep.BaseURL()},
	}
	if model, serial, ok := discovery.ParseInstanceName(ep.Name); ok {
		details = append(details, Param{"Model", model}, Param{"Serial", serial})
	}
	if ep.Hostname != "" {
		details = append(details, Param{"Hostname", ep.Hostname})
	}
	if len(ep.Text) > 0 {
		details = append(details, Param{"TXT records", strconv.Itoa(len(ep.Text))})
	}
	return details
}

// RenderHeader renders a command header box
func RenderHeader(title, command string, params []Param, width int) string {
	width = clampWidth(width)

	top := lipgloss.JoinVertical(lipgloss.Left,
		HeaderTitleStyle.Render(strings.ToUpper(title)),
		HeaderCommandStyle.Render(command),
	)
	if len(params) == 0 {
		return HeaderBorderStyle(width).Render(top)
	}

	lines := make([]string, 0, len(params))
	for _, param := range params {
		lines = append(lines, HeaderParamKeyStyle.Render(param.Key+":")+" "+HeaderParamValueStyle.Render(param.Value))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		top,
		RenderHorizontalDivider(width-6, "─"),
		strings.Join(lines, "\n"),
	)
	return HeaderBorderStyle(width).Render(content)
}

func renderDetail(p Param) string {
	return ResultKeyStyle.Render("    "+p.Key+":") + " " + ResultValueStyle.Render(p.Value)
}
