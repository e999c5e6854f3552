// Package setup runs the interactive configuration wizard.
package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/config"
	"github.com/vadiminshakov/accrue/internal/domain"
)

const clearScreen = "\033[H\033[2J"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers are the raw wizard inputs.
type Answers struct {
	Platform     string
	Instruments  string
	PriceFixture string
	InitialCash  string
	BaseCurrency string
	FeeRateBps   string
	TickInterval string
	Listen       string
}

// DefaultAnswers prefills the wizard from config.Default.
func DefaultAnswers() Answers {
	d := config.Default()
	return Answers{
		Platform:     string(d.Platform),
		Instruments:  "BTC_USDT",
		InitialCash:  d.InitialCash.String(),
		BaseCurrency: d.BaseCurrency,
		FeeRateBps:   strconv.Itoa(d.FeeRateBps),
		TickInterval: d.TickInterval.String(),
		Listen:       d.Web.Listen,
	}
}

// Build turns answers into a validated config.
func (a Answers) Build() (config.Config, error) {
	c := config.Default()
	c.Platform = config.Platform(strings.ToLower(strings.TrimSpace(a.Platform)))
	c.Instruments = splitInstruments(a.Instruments)
	c.PriceFixture = strings.TrimSpace(a.PriceFixture)

	cash, err := decimal.NewFromString(strings.TrimSpace(a.InitialCash))
	if err != nil {
		return config.Config{}, errors.Wrapf(err, "initial cash %q", a.InitialCash)
	}
	c.InitialCash = cash

	if code := strings.ToUpper(strings.TrimSpace(a.BaseCurrency)); code != "" {
		c.BaseCurrency = code
	}
	if a.FeeRateBps != "" {
		fee, err := strconv.Atoi(strings.TrimSpace(a.FeeRateBps))
		if err != nil {
			return config.Config{}, errors.Wrapf(err, "fee rate %q", a.FeeRateBps)
		}
		c.FeeRateBps = fee
	}
	if a.TickInterval != "" {
		tick, err := time.ParseDuration(strings.TrimSpace(a.TickInterval))
		if err != nil {
			return config.Config{}, errors.Wrapf(err, "tick interval %q", a.TickInterval)
		}
		c.TickInterval = tick
	}
	if listen := strings.TrimSpace(a.Listen); listen != "" {
		c.Web.Listen = listen
	}

	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

// Write renders c as YAML into path.
func Write(c config.Config, path string) error {
	data, err := config.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "save config file %s", path)
	}
	return nil
}

// RunTUI launches the terminal configuration wizard and saves the result to outPath.
func RunTUI(outPath string) error {
	a := DefaultAnswers()
	var confirm bool

	step := func(title string) {
		fmt.Print(clearScreen)
		fmt.Println(headerStyle.Render("ACCRUE CONFIG WIZARD"))
		fmt.Println(stepStyle.Render(title))
	}

	fmt.Print(clearScreen)
	fmt.Println(headerStyle.Render("ACCRUE CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Set up your portfolio and recurring buys.\n"))

	fmt.Println(stepStyle.Render("STEP 1: PRICE SOURCE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should prices come from?").
				Options(
					huh.NewOption("Binance", string(config.PlatformBinance)),
					huh.NewOption("Bybit", string(config.PlatformBybit)),
					huh.NewOption("Hyperliquid", string(config.PlatformHyperliquid)),
					huh.NewOption("YAML fixture (offline)", string(config.PlatformFile)),
				).
				Value(&a.Platform),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: INSTRUMENTS")
	fields := []huh.Field{
		huh.NewInput().
			Title("Instruments").
			Description("Comma separated, e.g. BTC_USDT, ETH_USDT").
			Value(&a.Instruments).
			Validate(func(s string) error {
				return validateInstruments(config.Platform(a.Platform), s)
			}),
	}
	if a.Platform == string(config.PlatformFile) {
		fields = append(fields, huh.NewInput().
			Title("Price fixture").
			Description("Path to the YAML file with prices and series").
			Value(&a.PriceFixture).
			Validate(validateFixture))
	}
	if err = huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}

	step("STEP 3: PORTFOLIO")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Initial cash").
				Value(&a.InitialCash).
				Validate(validateCash),
			huh.NewInput().
				Title("Base currency").
				Description("ISO 4217 code shown in the UI").
				Value(&a.BaseCurrency),
			huh.NewInput().
				Title("Fee (basis points)").
				Description("0-10000, charged on every buy").
				Value(&a.FeeRateBps).
				Validate(validateFee),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 4: TIMING AND API")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Scheduler tick").
				Description("Duration string (e.g. 30s, 1m)").
				Value(&a.TickInterval).
				Validate(validateDuration),
			huh.NewInput().
				Title("Web API listen address").
				Value(&a.Listen),
		),
	).Run()
	if err != nil {
		return err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Platform: %s\nInstruments: %s\nCash: %s %s\nFee: %s bps\nTick: %s\nListen: %s\n",
		a.Platform, a.Instruments, a.InitialCash, a.BaseCurrency, a.FeeRateBps, a.TickInterval, a.Listen,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	c, err := a.Build()
	if err != nil {
		return err
	}
	if err := Write(c, outPath); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", outPath)))
	return nil
}

func splitInstruments(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateInstruments(platform config.Platform, s string) error {
	ids := splitInstruments(s)
	if len(ids) == 0 {
		return errors.New("at least one instrument is required")
	}
	if platform == config.PlatformFile {
		return nil
	}
	for _, id := range ids {
		if _, err := domain.ParsePair(id); err != nil {
			return errors.Errorf("invalid format %q: must be BASE_QUOTE (e.g. BTC_USDT)", id)
		}
	}
	return nil
}

func validateFixture(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("fixture path cannot be empty")
	}
	if _, err := os.Stat(s); err != nil {
		return errors.Errorf("cannot read %s", s)
	}
	return nil
}

func validateCash(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a valid number")
	}
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

func validateFee(s string) error {
	fee, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a whole number")
	}
	if fee < 0 || fee > domain.MaxFeeRateBps {
		return errors.Errorf("must be between 0 and %d", domain.MaxFeeRateBps)
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}
