package views

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/legacy"
)

// Transactions carrying one of these tags are left out of spending
// summaries.
var excludedTags = map[string]bool{"income": true, "transfer": true}

// Point is one transaction of a merchant.
type Point struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
}

// MerchantSummary aggregates the transactions attributed to one merchant.
type MerchantSummary struct {
	Name         string
	Category     string
	Subcategory  string
	Tags         []string
	Transactions []Point
}

// Summarize groups matched transactions by merchant. Failed outcomes and
// transactions tagged income or transfer are skipped. Summaries are ordered
// by total, largest first.
func Summarize(outcomes []engine.Outcome) []*MerchantSummary {
	byName := make(map[string]*MerchantSummary)
	tagSets := make(map[string]map[string]bool)
	for _, o := range outcomes {
		if o.Err != nil || o.Result == nil || o.Transaction == nil {
			continue
		}
		if excluded(o.Result.Tags) {
			continue
		}
		res, txn := o.Result, o.Transaction

		s, ok := byName[res.Merchant]
		if !ok {
			s = &MerchantSummary{Name: res.Merchant}
			byName[res.Merchant] = s
			tagSets[res.Merchant] = make(map[string]bool)
		}
		s.Category, s.Subcategory = res.Category, res.Subcategory
		desc := txn.RawDescription
		if desc == "" {
			desc = txn.Description
		}
		s.Transactions = append(s.Transactions, Point{Date: txn.Date, Description: desc, Amount: txn.Amount})
		for _, t := range res.Tags {
			tagSets[res.Merchant][t] = true
		}
	}

	out := make([]*MerchantSummary, 0, len(byName))
	for name, s := range byName {
		for t := range tagSets[name] {
			s.Tags = append(s.Tags, t)
		}
		sort.Strings(s.Tags)
		sort.SliceStable(s.Transactions, func(i, j int) bool {
			return s.Transactions[i].Date.Before(s.Transactions[j].Date)
		})
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Total(), out[j].Total()
		if !ti.Equal(tj) {
			return ti.GreaterThan(tj)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func excluded(tags []string) bool {
	for _, t := range tags {
		if excludedTags[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// Payments is the number of transactions.
func (s *MerchantSummary) Payments() int {
	return len(s.Transactions)
}

// Months is the number of distinct calendar months with a transaction.
func (s *MerchantSummary) Months() int {
	totals, _ := s.ByPeriod("month")
	return len(totals)
}

// Total sums all amounts.
func (s *MerchantSummary) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Transactions {
		total = total.Add(p.Amount)
	}
	return total
}

// MaxPayment is the largest single amount.
func (s *MerchantSummary) MaxPayment() decimal.Decimal {
	maxAmount := decimal.Zero
	for _, p := range s.Transactions {
		if p.Amount.GreaterThan(maxAmount) {
			maxAmount = p.Amount
		}
	}
	return maxAmount
}

// CV is the coefficient of variation of the monthly totals. It is zero with
// fewer than two active months or a non-positive mean.
func (s *MerchantSummary) CV() float64 {
	monthly, _ := s.ByPeriod("month")
	if len(monthly) < 2 {
		return 0
	}
	mean, _ := decimal.Avg(monthly[0], monthly[1:]...).Float64()
	if mean <= 0 {
		return 0
	}
	return expr.StdDev(monthly) / mean
}

// ByPeriod totals amounts per day, month or year, oldest first.
func (s *MerchantSummary) ByPeriod(period string) ([]decimal.Decimal, error) {
	var layout string
	switch strings.ToLower(period) {
	case "day":
		layout = "2006-01-02"
	case "month":
		layout = "2006-01"
	case "year":
		layout = "2006"
	default:
		return nil, fmt.Errorf("unknown period %q: want day, month or year", period)
	}

	var keys []string
	totals := make(map[string]decimal.Decimal)
	for _, p := range s.Transactions {
		k := p.Date.Format(layout)
		if _, ok := totals[k]; !ok {
			keys = append(keys, k)
		}
		totals[k] = totals[k].Add(p.Amount)
	}
	sort.Strings(keys)
	out := make([]decimal.Decimal, len(keys))
	for i, k := range keys {
		out[i] = totals[k]
	}
	return out, nil
}

// SpanMonths counts the distinct calendar months covered by all summaries,
// at least one.
func SpanMonths(summaries []*MerchantSummary) int {
	months := make(map[string]bool)
	for _, s := range summaries {
		for _, p := range s.Transactions {
			months[p.Date.Format("2006-01")] = true
		}
	}
	return max(len(months), 1)
}

// Stats converts the summary for the legacy classification rules.
func (s *MerchantSummary) Stats() legacy.MerchantStats {
	total, _ := s.Total().Float64()
	maxPayment, _ := s.MaxPayment().Float64()
	return legacy.MerchantStats{
		Category:     s.Category,
		Subcategory:  s.Subcategory,
		MonthsActive: s.Months(),
		Count:        s.Payments(),
		Total:        total,
		CV:           s.CV(),
		MaxPayment:   maxPayment,
	}
}

// Bucket classifies the summary with legacy classification rules over a
// period of numMonths.
func (s *MerchantSummary) Bucket(rules []*legacy.ClassificationRule, numMonths int) (legacy.Bucket, legacy.CalcType) {
	return legacy.Classify(s.Stats(), rules, numMonths)
}

func (s *MerchantSummary) env() *summaryEnv {
	return &summaryEnv{s: s}
}

// summaryEnv exposes a summary to filter expressions.
type summaryEnv struct {
	s *MerchantSummary
}

func (e *summaryEnv) Lookup(name string) (expr.Value, bool) {
	s := e.s
	switch strings.ToLower(name) {
	case "merchant":
		return expr.Str(s.Name), true
	case "category":
		return expr.Str(s.Category), true
	case "subcategory":
		return expr.Str(s.Subcategory), true
	case "tags":
		tags := make([]expr.Value, len(s.Tags))
		for i, t := range s.Tags {
			tags[i] = expr.Str(t)
		}
		return expr.List(tags), true
	case "months":
		return expr.Int(s.Months()), true
	case "payments":
		return expr.Int(s.Payments()), true
	case "total":
		return expr.Num(s.Total()), true
	case "max":
		return expr.Num(s.MaxPayment()), true
	case "cv":
		return expr.Num(decimal.NewFromFloat(s.CV())), true
	case "transactions":
		rows := make([]expr.Value, len(s.Transactions))
		for i, p := range s.Transactions {
			rows[i] = expr.Record(map[string]expr.Value{
				"date":        expr.Date(p.Date),
				"amount":      expr.Num(p.Amount),
				"description": expr.Str(p.Description),
			})
		}
		return expr.List(rows), true
	}
	return expr.Value{}, false
}

func (e *summaryEnv) Field(string) (expr.Value, bool) {
	return expr.Value{}, false
}

func (e *summaryEnv) Rows(string) ([]expr.Value, bool) {
	return nil, false
}

func (e *summaryEnv) Func(name string) (expr.Func, bool) {
	if !strings.EqualFold(name, "by") {
		return nil, false
	}
	return func(args []expr.Value) (expr.Value, error) {
		if len(args) != 1 {
			return expr.Value{}, &expr.EvalError{Kind: expr.TypeMismatch, Msg: "by() takes 1 argument(s)", Expr: "by"}
		}
		totals, err := e.s.ByPeriod(args[0].String())
		if err != nil {
			return expr.Value{}, &expr.EvalError{Kind: expr.OutOfRange, Msg: err.Error(), Expr: fmt.Sprintf("by(%q)", args[0].String())}
		}
		vals := make([]expr.Value, len(totals))
		for i, d := range totals {
			vals[i] = expr.Num(d)
		}
		return expr.List(vals), nil
	}, true
}
