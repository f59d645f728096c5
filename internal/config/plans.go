package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/punchamoorthee/thriftpay/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultRegistrationFee is ₦2,500 in kobo, the fee every plan charges unless
// a plans file says otherwise.
const DefaultRegistrationFee int64 = 250000

// PlanConfig describes one thrift plan.
type PlanConfig struct {
	Name            string `yaml:"name"`
	RegistrationFee string `yaml:"registration_fee"` // naira, e.g. "2500" or "2500.00"
}

type plansFile struct {
	Plans map[domain.Plan]PlanConfig `yaml:"plans"`
}

// FeeSchedule is the single source of registration fees, keyed by plan.
type FeeSchedule struct {
	fees map[domain.Plan]int64
}

// NewFeeSchedule builds a schedule from kobo amounts.
func NewFeeSchedule(fees map[domain.Plan]int64) FeeSchedule {
	cp := make(map[domain.Plan]int64, len(fees))
	for p, f := range fees {
		cp[p] = f
	}
	return FeeSchedule{fees: cp}
}

// DefaultFeeSchedule charges DefaultRegistrationFee on every plan.
func DefaultFeeSchedule() FeeSchedule {
	return NewFeeSchedule(map[domain.Plan]int64{
		domain.PlanA: DefaultRegistrationFee,
		domain.PlanB: DefaultRegistrationFee,
		domain.PlanC: DefaultRegistrationFee,
	})
}

// RegistrationFee returns the fee in kobo for plan.
func (s FeeSchedule) RegistrationFee(plan domain.Plan) (int64, error) {
	fee, ok := s.fees[plan]
	if !ok {
		return 0, fmt.Errorf("no registration fee configured for plan %q", plan)
	}
	return fee, nil
}

// Plans lists the configured plans in order.
func (s FeeSchedule) Plans() []domain.Plan {
	plans := make([]domain.Plan, 0, len(s.fees))
	for p := range s.fees {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i] < plans[j] })
	return plans
}

// LoadPlans reads a YAML plans file. An empty path yields DefaultFeeSchedule.
func LoadPlans(path string) (FeeSchedule, error) {
	if path == "" {
		return DefaultFeeSchedule(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("read plans file: %w", err)
	}
	return ParsePlans(raw)
}

// ParsePlans decodes plan definitions and lays them over DefaultFeeSchedule,
// so a file only needs the plans whose fee differs. Every plan must be a
// known plan and carry a non-negative fee.
func ParsePlans(raw []byte) (FeeSchedule, error) {
	var f plansFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return FeeSchedule{}, fmt.Errorf("decode plans: %w", err)
	}
	if len(f.Plans) == 0 {
		return FeeSchedule{}, fmt.Errorf("plans file defines no plans")
	}

	fees := DefaultFeeSchedule().fees
	for plan, pc := range f.Plans {
		if !plan.Valid() {
			return FeeSchedule{}, fmt.Errorf("unknown plan %q", plan)
		}
		fee, err := domain.ParseNaira(pc.RegistrationFee)
		if err != nil {
			return FeeSchedule{}, fmt.Errorf("plan %s: %w", plan, err)
		}
		fees[plan] = fee
	}
	return FeeSchedule{fees: fees}, nil
}
