package signal

import (
	"strings"

	"github.com/shopspring/decimal"
)

type lineKind int

const (
	lineOther lineKind = iota
	lineEntry
	lineStop
	lineTarget
	lineLeverage
	lineSymbol
	lineDirection
)

// line строка сообщения с токенами; keyAt индекс первого токена после ключа.
type line struct {
	no    int
	raw   string
	kind  lineKind
	toks  []token
	keyAt int
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var (
	entryKeys     = set("entry", "entries", "enter", "вход", "входа", "точка")
	stopKeys      = set("sl", "stop", "stoploss", "стоп", "стоплосс")
	leverageKeys  = set("leverage", "lev", "плечо")
	symbolKeys    = set("монета", "coin", "pair", "symbol", "пара", "инструмент")
	directionKeys = set("покупка", "direction", "side", "position", "позиция", "направление")
	targetKeys    = set("tp", "target", "targets", "take", "takeprofit", "цель", "цели", "тейк", "фиксируем")
	resultKeys    = set("profit", "прибыль", "result", "результат")

	listTargetKeys = set("targets", "цели")

	marketWords = set("market", "cmp", "now", "рынок", "маркет", "рыночный", "рынку")
	longWords   = set("long", "buy", "лонг")
	shortWords  = set("short", "sell", "шорт")

	nonSymbolWords = set(
		"signal", "new", "vip", "premium", "free", "futures", "spot", "trade", "setup",
		"cross", "isolated", "limit", "order", "entry", "price", "leverage", "to",
		"сигнал", "лимитный", "ордер", "кросс",
	)
)

func targetKey(w string) bool {
	return targetKeys[strings.TrimRight(w, "0123456789")]
}

func tokenize(text, quote string) []line {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]line, 0, len(raw))
	for i, r := range raw {
		toks := lexLine(r, quote)
		if len(toks) == 0 {
			continue
		}
		l := line{no: i + 1, raw: r, toks: toks}
		l.classify()
		out = append(out, l)
	}
	return out
}

// classify по первому слову строки (декор и эмодзи в начале пропускаются).
func (l *line) classify() {
	first := -1
	w := ""
	for i, t := range l.toks {
		if t.kind == tokSep {
			continue
		}
		switch t.kind {
		case tokWord:
			first, w = i, t.lower
		case tokPair:
			// Stop/Loss, Take/Profit: ключ, записанный как пара
			if base := pairBase(t.lower); isPriceKey(base) {
				first, w = i, base
			}
		}
		break
	}
	if first < 0 {
		return
	}
	l.keyAt = first + 1
	switch {
	case entryKeys[w]:
		l.kind = lineEntry
	case stopKeys[w]:
		l.kind = lineStop
	case targetKey(w):
		l.kind = lineTarget
	case leverageKeys[w]:
		l.kind = lineLeverage
	case symbolKeys[w]:
		l.kind = lineSymbol
	case directionKeys[w]:
		l.kind = lineDirection
	default:
		l.keyAt = 0
	}
}

func pairBase(s string) string {
	if i := strings.IndexAny(s, "/-_"); i > 0 {
		return s[:i]
	}
	return s
}

func isPriceKey(w string) bool {
	return entryKeys[w] || stopKeys[w] || targetKey(w)
}

// dashIndexAllowed "TP 1 - 51000": номер цели через дефис бывает только после
// ключа одной цели без собственного номера. Списки (Targets, Цели) несут цены.
func (l line) dashIndexAllowed() bool {
	if l.kind != lineTarget || l.keyAt == 0 {
		return false
	}
	key := l.toks[l.keyAt-1].lower
	if key != strings.TrimRight(key, "0123456789") {
		return false
	}
	return !listTargetKeys[key]
}

func (l line) body() []token { return l.toks[l.keyAt:] }

func (l line) onlyKey() bool {
	for _, t := range l.body() {
		if t.kind != tokSep && t.kind != tokWord {
			return false
		}
	}
	return true
}

func (l line) startsWithNumber() bool {
	for _, t := range l.toks {
		if t.kind == tokSep {
			continue
		}
		return t.kind == tokNumber || t.kind == tokBad
	}
	return false
}

func (l line) hasDirection() bool {
	for _, t := range l.toks {
		if t.kind == tokWord && (longWords[t.lower] || shortWords[t.lower]) {
			return true
		}
	}
	return false
}

func (l line) firstWord() string {
	for _, t := range l.toks {
		if t.kind == tokSep {
			continue
		}
		if t.kind == tokWord {
			return t.lower
		}
		return ""
	}
	return ""
}

// isIndexAt порядковый номер ("1)", "2:", "TP 1 - ...") перед ценой, а не сама цена.
// С дефисом только при dash: иначе "8 - 9" это диапазон, "10 - 12 - 14" список цен.
func isIndexAt(body []token, i int, dash bool) bool {
	t := body[i]
	if t.kind != tokNumber || !allDigits(t.text) || t.num.GreaterThan(decimal.NewFromInt(20)) {
		return false
	}
	if i+1 >= len(body) || body[i+1].kind != tokSep {
		return false
	}
	later := false
	for _, n := range body[i+1:] {
		if n.kind == tokNumber {
			later = true
			break
		}
	}
	if !later {
		return false
	}
	switch body[i+1].text {
	case ")", ".", ":":
		return true
	case "-":
		if !dash {
			return false
		}
		count := 0
		for j, n := range body {
			if n.kind != tokNumber {
				continue
			}
			if j < i {
				return false
			}
			count++
		}
		return count == 2
	}
	return false
}

// numbers все цены строки без порядковых номеров.
func numbers(body []token, field string, lineNo int) ([]decimal.Decimal, *ParseError) {
	var out []decimal.Decimal
	for i, t := range body {
		switch t.kind {
		case tokBad:
			return nil, newErr(ErrMalformedNumber, field, lineNo, t.text)
		case tokNumber:
			if isIndexAt(body, i, false) {
				continue
			}
			out = append(out, t.num)
		}
	}
	return out, nil
}

func firstNumber(l line, field string) (decimal.Decimal, *ParseError) {
	nums, err := numbers(l.body(), field, l.no)
	if err != nil {
		return decimal.Zero, err
	}
	if len(nums) == 0 {
		return decimal.Zero, newErr(ErrMalformedNumber, field, l.no, "no price")
	}
	return nums[0], nil
}

// looksLikeSignal предфильтр: минимум три признака сигнала.
func looksLikeSignal(lines []line) bool {
	var direction, entry, stop, targets, leverage, symbol bool
	for _, l := range lines {
		switch l.kind {
		case lineEntry:
			entry = true
		case lineStop:
			stop = true
		case lineTarget:
			targets = true
		case lineLeverage:
			leverage = true
		case lineSymbol:
			symbol = true
		}
		for _, t := range l.toks {
			switch t.kind {
			case tokWord:
				if longWords[t.lower] || shortWords[t.lower] {
					direction = true
				}
			case tokLeverage:
				leverage = true
			case tokPair:
				symbol = true
			}
		}
	}
	n := 0
	for _, ok := range []bool{direction, entry, stop, targets, leverage, symbol} {
		if ok {
			n++
		}
	}
	return n >= 3
}

// isResultUpdate отчёт канала о закрытой сделке ("Profit - 60%"), а не новый сигнал.
func isResultUpdate(lines []line) bool {
	var entry, stop, result bool
	for _, l := range lines {
		switch l.kind {
		case lineEntry:
			entry = true
		case lineStop:
			stop = true
		}
		for _, t := range l.toks {
			if t.kind == tokWord && resultKeys[t.lower] && l.kind != lineTarget {
				result = true
			}
		}
	}
	return result && !entry && !stop
}
