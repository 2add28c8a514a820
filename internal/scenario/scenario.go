// Package scenario generates sample audit inputs with known anomalies.
//
// Every scenario writes a statement in the standard layout and, when the
// scenario needs them, bank conditions, daily balances, an accounting ledger
// and historical fees. Generation is deterministic for a given seed.
package scenario

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/pkg/errors"
	"bank-fee-auditor/pkg/logger"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Input file names written into each scenario directory
const (
	StatementFile  = "statement.csv"
	ConditionsFile = "conditions.yaml"
	BalancesFile   = "balances.csv"
	LedgerFile     = "ledger.csv"
	HistoricalFile = "historical.csv"
)

// Names of the available scenarios
const (
	Duplicates     = "duplicates"
	GhostFees      = "ghost-fees"
	Overcharge     = "overcharge"
	Interest       = "interest"
	Reconciliation = "reconciliation"
)

// All lists every scenario in generation order
var All = []string{Duplicates, GhostFees, Overcharge, Interest, Reconciliation}

const (
	accountID = "SN012-0001"
	bankID    = "SGBS"
)

var statementHeader = []string{"id", "account_id", "bank_id", "operation_date", "value_date", "amount", "balance", "description", "type", "reference"}

// Result lists the files written for one scenario
type Result struct {
	Name  string
	Dir   string
	Files map[string]string
	// Expected is the anomaly type the scenario is built to trigger
	Expected models.AnomalyType
}

// Generator creates scenario datasets
type Generator struct {
	Seed      int64
	OutputDir string

	rng    *rand.Rand
	logger logger.Logger
}

// NewGenerator creates a generator writing below outputDir
func NewGenerator(outputDir string, seed int64) *Generator {
	return &Generator{
		Seed:      seed,
		OutputDir: outputDir,
		logger:    logger.GetGlobalLogger().WithComponent("scenario"),
	}
}

// GenerateAll generates every scenario
func (g *Generator) GenerateAll() ([]*Result, error) {
	results := make([]*Result, 0, len(All))
	for _, name := range All {
		result, err := g.Generate(name)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Generate generates the named scenario into OutputDir/name
func (g *Generator) Generate(name string) (*Result, error) {
	g.rng = rand.New(rand.NewSource(g.Seed))

	var build func() *dataset
	switch name {
	case Duplicates:
		build = g.duplicateScenario
	case GhostFees:
		build = g.ghostFeeScenario
	case Overcharge:
		build = g.overchargeScenario
	case Interest:
		build = g.interestScenario
	case Reconciliation:
		build = g.reconciliationScenario
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "scenario", name,
			fmt.Errorf("unknown scenario %q", name))
	}

	dir := filepath.Join(g.OutputDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.FileError(errors.CodeFilePermission, dir, err)
	}

	data := build()
	result := &Result{Name: name, Dir: dir, Files: make(map[string]string), Expected: data.expected}
	if err := data.write(dir, result.Files); err != nil {
		return nil, err
	}

	g.logger.WithFields(logger.Fields{
		"scenario":     name,
		"dir":          dir,
		"transactions": len(data.statement),
		"seed":         g.Seed,
	}).Info("Scenario generated")
	return result, nil
}

// dataset is the in-memory content of one scenario
type dataset struct {
	expected   models.AnomalyType
	statement  [][]string
	conditions *conditionsDocument
	balances   [][]string
	ledger     [][]string
	historical [][]string
}

type feeDocument struct {
	Code   string             `yaml:"code"`
	Name   string             `yaml:"name"`
	Kind   models.PricingKind `yaml:"kind"`
	Amount string             `yaml:"amount,omitempty"`
	Rate   string             `yaml:"rate,omitempty"`
	Min    string             `yaml:"min,omitempty"`
	Max    string             `yaml:"max,omitempty"`
}

type interestDocument struct {
	DebitRate string          `yaml:"debit_rate,omitempty"`
	DayCount  models.DayCount `yaml:"day_count,omitempty"`
}

type conditionsDocument struct {
	BankID   string           `yaml:"bank_id"`
	Name     string           `yaml:"name"`
	Currency string           `yaml:"currency"`
	Fees     []feeDocument    `yaml:"fees"`
	Interest interestDocument `yaml:"interest"`
}

func defaultConditions() *conditionsDocument {
	return &conditionsDocument{
		BankID:   bankID,
		Name:     "Banque de démonstration",
		Currency: "XOF",
		Fees: []feeDocument{
			{Code: "TC", Name: "Frais de tenue de compte", Kind: models.PricingFixed, Amount: "5000"},
			{Code: "CB", Name: "Cotisation carte", Kind: models.PricingFixed, Amount: "2500"},
			{Code: "VINT", Name: "Commission virement international", Kind: models.PricingPercentage, Rate: "0.01", Min: "5000", Max: "50000"},
		},
		Interest: interestDocument{DebitRate: "0.12", DayCount: models.DayCountACT360},
	}
}

// statementBuilder accumulates statement rows; balances are filled in
// date order by rows
type statementBuilder struct {
	data    [][]string
	opening decimal.Decimal
	seq     int
	prefix  string
}

func newStatementBuilder(prefix string, opening int64) *statementBuilder {
	return &statementBuilder{opening: decimal.NewFromInt(opening), prefix: prefix}
}

func (sb *statementBuilder) add(day int, amount int64, description, reference string) string {
	sb.seq++
	id := fmt.Sprintf("%s%03d", sb.prefix, sb.seq)
	date := baseDate.AddDate(0, 0, day).Format(models.DateLayout)
	sb.data = append(sb.data, []string{
		id, accountID, bankID, date, date,
		decimal.NewFromInt(amount).String(), "",
		description, "", reference,
	})
	return id
}

// rows returns the header and the rows ordered by date with running balances
func (sb *statementBuilder) rows() [][]string {
	sort.SliceStable(sb.data, func(i, j int) bool { return sb.data[i][3] < sb.data[j][3] })

	balance := sb.opening
	for _, row := range sb.data {
		balance = balance.Add(decimal.RequireFromString(row[5]))
		row[6] = balance.String()
	}
	return append([][]string{statementHeader}, sb.data...)
}

var baseDate = mustDate("2024-03-01")

func mustDate(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

var merchants = []string{"SUPERMARCHE AUCHAN", "STATION TOTAL", "PHARMACIE DU PLATEAU", "RESTAURANT LE LAGON", "LIBRAIRIE CLAIRAFRIQUE"}

// addActivity appends a salary and a few card payments over the month
func (g *Generator) addActivity(sb *statementBuilder) {
	sb.add(0, 850000, "VIREMENT RECU SALAIRE MARS", "SAL-0324")
	for i := 0; i < 6; i++ {
		day := 2 + g.rng.Intn(26)
		amount := int64(5000 + g.rng.Intn(60)*1000)
		sb.add(day, -amount, "CARTE ACHAT "+merchants[g.rng.Intn(len(merchants))], "")
	}
}

func (g *Generator) duplicateScenario() *dataset {
	sb := newStatementBuilder("DUP", 250000)
	g.addActivity(sb)
	sb.add(4, -5000, "FRAIS TENUE DE COMPTE", "")
	sb.add(5, -5000, "FRAIS TENUE DE COMPTE", "")
	sb.add(6, -5000, "FRAIS TENUE DE COMPTE", "")

	return &dataset{expected: models.AnomalyDuplicateFee, statement: sb.rows()}
}

func (g *Generator) ghostFeeScenario() *dataset {
	sb := newStatementBuilder("GHO", 250000)
	g.addActivity(sb)
	sb.add(28, -5000, "FRAIS TENUE DE COMPTE", "")
	sb.add(14, -15000, "FRAIS DIVERS", "")
	sb.add(21, -10000, "REGULARISATION COMMISSION", "")

	return &dataset{expected: models.AnomalyGhostFee, statement: sb.rows(), conditions: defaultConditions()}
}

func (g *Generator) overchargeScenario() *dataset {
	sb := newStatementBuilder("OVC", 250000)
	g.addActivity(sb)
	sb.add(28, -9500, "FRAIS TENUE DE COMPTE", "")
	sb.add(10, -6500, "COTISATION CARTE VISA", "")

	historical := [][]string{{"date", "service", "amount"}}
	for month := 1; month <= 6; month++ {
		date := baseDate.AddDate(0, -month, 27).Format(models.DateLayout)
		historical = append(historical, []string{date, string(models.ServiceAccountMaintenance), "5000"})
	}

	return &dataset{
		expected:   models.AnomalyOvercharge,
		statement:  sb.rows(),
		conditions: defaultConditions(),
		historical: historical,
	}
}

func (g *Generator) interestScenario() *dataset {
	sb := newStatementBuilder("INT", -400000)
	sb.add(0, 150000, "VIREMENT RECU CLIENT", "")
	sb.add(2, -50000, "CARTE ACHAT "+merchants[g.rng.Intn(len(merchants))], "")

	// Overdrawn by 300 000 for the whole of February at 12% ACT/360 is
	// 2 900; the bank charges almost three times that.
	balances := [][]string{{"date", "account_id", "balance"}}
	for day := 1; day <= 29; day++ {
		date := mustDate(fmt.Sprintf("2024-02-%02d", day)).Format(models.DateLayout)
		balances = append(balances, []string{date, accountID, "-300000"})
	}
	sb.add(1, -8700, "INTERETS DEBITEURS FEVRIER", "")

	return &dataset{
		expected:   models.AnomalyInterestError,
		statement:  sb.rows(),
		conditions: defaultConditions(),
		balances:   balances,
	}
}

func (g *Generator) reconciliationScenario() *dataset {
	sb := newStatementBuilder("REC", 250000)
	g.addActivity(sb)
	sb.add(28, -5000, "FRAIS TENUE DE COMPTE", "")
	missing := sb.add(15, -75000, "VIREMENT EMIS FOURNISSEUR", "FAC-2024-031")

	// The ledger books every statement line except the supplier transfer
	ledger := [][]string{{"id", "date", "amount", "description", "reference"}}
	statement := sb.rows()
	for _, row := range statement[1:] {
		if row[0] == missing {
			continue
		}
		ledger = append(ledger, []string{"L-" + row[0], row[3], row[5], row[7], row[9]})
	}

	return &dataset{
		expected:  models.AnomalyReconciliationGap,
		statement: statement,
		ledger:    ledger,
	}
}

func (d *dataset) write(dir string, files map[string]string) error {
	if err := writeCSV(dir, StatementFile, d.statement, files); err != nil {
		return err
	}
	if d.conditions != nil {
		path := filepath.Join(dir, ConditionsFile)
		content, err := yaml.Marshal(d.conditions)
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "marshal conditions", err)
		}
		if err := os.WriteFile(path, content, 0644); err != nil {
			return errors.FileError(errors.CodeFilePermission, path, err)
		}
		files[ConditionsFile] = path
	}
	for name, rows := range map[string][][]string{
		BalancesFile:   d.balances,
		LedgerFile:     d.ledger,
		HistoricalFile: d.historical,
	} {
		if len(rows) == 0 {
			continue
		}
		if err := writeCSV(dir, name, rows, files); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(dir, filename string, data [][]string, files map[string]string) error {
	path := filepath.Join(dir, filename)

	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(data); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, path, err)
	}

	files[filename] = path
	return nil
}
