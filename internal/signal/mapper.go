package signal

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Mapping символ канала -> символ биржи и множитель цен (PEPEUSDT -> 1000PEPEUSDT, rate 1000).
type Mapping struct {
	Symbol string          `yaml:"symbol"`
	Rate   decimal.Decimal `yaml:"-"`
}

type mappingEntry struct {
	Symbol string  `yaml:"symbol"`
	Rate   float64 `yaml:"rate"`
}

type Mapper struct {
	m map[string]Mapping
}

func NewMapper(m map[string]Mapping) *Mapper {
	norm := make(map[string]Mapping, len(m))
	for k, v := range m {
		if !v.Rate.IsPositive() {
			v.Rate = decimal.NewFromInt(1)
		}
		v.Symbol = normalizeSymbol(v.Symbol)
		norm[normalizeSymbol(k)] = v
	}
	return &Mapper{m: norm}
}

// LoadMapper читает YAML. Пустой путь или отсутствующий файл дают пустой маппер.
// Значение может быть строкой (только символ) или {symbol, rate}.
func LoadMapper(path string) (*Mapper, error) {
	if strings.TrimSpace(path) == "" {
		return NewMapper(nil), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewMapper(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read symbol mappings: %w", err)
	}
	return ParseMappings(data)
}

func ParseMappings(data []byte) (*Mapper, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode symbol mappings: %w", err)
	}

	out := make(map[string]Mapping, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = Mapping{Symbol: val}
		default:
			b, err := yaml.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("symbol mapping %s: %w", k, err)
			}
			var e mappingEntry
			if err := yaml.Unmarshal(b, &e); err != nil {
				return nil, fmt.Errorf("symbol mapping %s: %w", k, err)
			}
			if e.Symbol == "" {
				return nil, fmt.Errorf("symbol mapping %s: empty symbol", k)
			}
			out[k] = Mapping{Symbol: e.Symbol, Rate: decimal.NewFromFloat(e.Rate)}
		}
	}
	return NewMapper(out), nil
}

func (m *Mapper) Lookup(symbol string) (Mapping, bool) {
	if m == nil {
		return Mapping{}, false
	}
	v, ok := m.m[normalizeSymbol(symbol)]
	return v, ok
}

func (m *Mapper) Len() int {
	if m == nil {
		return 0
	}
	return len(m.m)
}
