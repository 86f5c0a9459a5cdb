package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	baseURL     string
	methods     []string
	scenarios   []scenario
	selectedMtd int
	selectedScn int
	status      string
	metrics     string
	busy        bool
}

func initialModel(baseURL string) model {
	return model{
		baseURL: baseURL,
		methods: []string{"COD", "STRIPE", "BANK_TRANSFER"},
		scenarios: []scenario{
			{"checkout", "Register, place one order, show next payment step"},
			{"evidence", "Bank transfer order with an attached slip URL"},
			{"bench", "Place orders from 5 customers for 5s"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedMtd > 0 {
				m.selectedMtd--
			}
		case "down":
			if m.selectedMtd < len(m.methods)-1 {
				m.selectedMtd++
			}
		case "left":
			if m.selectedScn > 0 {
				m.selectedScn--
			}
		case "right":
			if m.selectedScn < len(m.scenarios)-1 {
				m.selectedScn++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			m.metrics = ""
			return m, runScenarioCmd(m.baseURL, m.methods[m.selectedMtd], m.scenarios[m.selectedScn].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.metrics = msg.metrics
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "Foood storefront CLI (%s)\n\n", m.baseURL)
	fmt.Fprintln(b, "Payment methods:")
	for i, name := range m.methods {
		marker := " "
		if i == m.selectedMtd {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s\n", marker, name)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios (use left/right):")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selectedScn {
			marker = "*"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.metrics != "" {
		fmt.Fprintf(b, "Metrics: %s\n", m.metrics)
	}
	fmt.Fprintln(b, "\nControls: up/down select payment method, left/right select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	metrics string
}

func runScenarioCmd(baseURL, method, scn string) tea.Cmd {
	return func() tea.Msg {
		return runScenario(context.Background(), baseURL, method, scn)
	}
}

func runScenario(ctx context.Context, baseURL, method, scn string) scenarioResult {
	if scn == "bench" {
		res, err := runBench(ctx, benchConfig{BaseURL: baseURL, Method: method, Duration: 5 * time.Second, Concurrency: 5, Timeout: 5 * time.Second})
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Benchmark failed: %v", err)}
		}
		return scenarioResult{status: "Benchmark finished", metrics: res.String()}
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	c := newAPIClient(baseURL, 5*time.Second)
	if err := c.signUp(ctx); err != nil {
		return scenarioResult{status: err.Error()}
	}
	productID, err := c.firstProduct(ctx)
	if err != nil {
		return scenarioResult{status: err.Error()}
	}
	if scn == "evidence" {
		method = "BANK_TRANSFER"
	}
	placed, err := c.placeOrder(ctx, productID, method)
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Order failed: %v", err)}
	}
	o := placed.Order
	status := fmt.Sprintf("Order %s total %s, status %s, payment %s, next step %q", o.Number, o.TotalAmount, o.Status, o.PaymentStatus, placed.Payment.Action)

	switch {
	case scn == "evidence":
		if err := c.attachEvidence(ctx, o.ID, "https://example.com/slips/"+o.ID+".png"); err != nil {
			return scenarioResult{status: status + fmt.Sprintf("; evidence failed: %v", err)}
		}
		status += "; slip attached, awaiting admin review"
	case placed.Payment.PaymentIntentID != "":
		status += "; intent " + placed.Payment.PaymentIntentID
	case placed.Payment.BankAccount != nil:
		status += fmt.Sprintf("; transfer to %s %s", placed.Payment.BankAccount.BankName, placed.Payment.BankAccount.AccountNumber)
	}
	return scenarioResult{status: status}
}

func main() {
	runName := flag.String("run", "", "run scenario without the TUI: checkout|evidence|bench")
	method := flag.String("method", "COD", "payment method: COD|STRIPE|BANK_TRANSFER")
	baseURL := flag.String("base-url", getenv("STOREFRONT_BASE_URL", "http://localhost:8080"), "storefront API base URL")
	duration := flag.Duration("duration", 5*time.Second, "bench duration")
	concurrency := flag.Int("concurrency", 5, "bench customers placing orders in parallel")
	out := flag.String("out", "", "write bench results as JSON to this path")
	flag.Parse()

	if *runName == "bench" {
		res, err := runBench(context.Background(), benchConfig{
			BaseURL:     *baseURL,
			Method:      strings.ToUpper(*method),
			Duration:    *duration,
			Concurrency: *concurrency,
			Timeout:     5 * time.Second,
			OutPath:     *out,
		})
		if err != nil {
			fmt.Println("error:", err)
			os.Exit(1)
		}
		fmt.Println(res)
		return
	}
	if *runName != "" {
		res := runScenario(context.Background(), *baseURL, strings.ToUpper(*method), *runName)
		fmt.Println(res.status)
		return
	}

	p := tea.NewProgram(initialModel(*baseURL))
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
