package signal

import (
	"fmt"
	"regexp"
	"strings"

	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
)

type Config struct {
	QuoteAsset           string
	AutoStopLoss         bool
	AutoStopLossPct      decimal.Decimal
	ScaleStopByLeverage  bool
	DefaultTakeProfitPct decimal.Decimal
	DefaultAllocationPct decimal.Decimal
}

// Parser разбирает текст сигнала: токенизатор по строкам + правила извлечения полей.
type Parser struct {
	cfg    Config
	mapper *Mapper
}

func NewParser(cfg Config, mapper *Mapper) *Parser {
	cfg.QuoteAsset = strings.ToUpper(strings.TrimSpace(cfg.QuoteAsset))
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &Parser{cfg: cfg, mapper: mapper}
}

var (
	hundred        = decimal.NewFromInt(100)
	maxStopLevBase = decimal.NewFromInt(20)
	symbolRe       = regexp.MustCompile(`^[A-Z0-9]{2,30}$`)
)

// Parse возвращает сигнал или *ParseError. Не паникует ни на каком входе.
func (p *Parser) Parse(text string) (sig models.TradeSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = models.TradeSignal{}
			err = newErr(ErrNotASignal, "", 0, fmt.Sprintf("unparseable input: %v", r))
		}
	}()

	cleaned := strings.TrimSpace(cleanText(text))
	if cleaned == "" {
		return models.TradeSignal{}, newErr(ErrEmptyMessage, "", 0, "")
	}

	lines := tokenize(cleaned, p.cfg.QuoteAsset)
	if !looksLikeSignal(lines) {
		return models.TradeSignal{}, newErr(ErrNotASignal, "", 0, "too few signal markers")
	}
	if isResultUpdate(lines) {
		return models.TradeSignal{}, newErr(ErrNotASignal, "", 0, "result update")
	}

	d, perr := extract(lines)
	if perr != nil {
		return models.TradeSignal{}, perr
	}

	out, perr := p.build(d)
	if perr != nil {
		return models.TradeSignal{}, perr
	}
	out.Raw = text
	return out, nil
}

type draft struct {
	symbol     string
	symbolLine int

	sawLong, sawShort bool

	leverage     decimal.Decimal
	leverageLine int
	hasLeverage  bool

	hasEntry   bool
	market     bool
	entry      decimal.Decimal
	entryLow   decimal.Decimal
	entryHigh  decimal.Decimal
	entryLine  int
	limitOrder bool

	hasStop  bool
	stop     decimal.Decimal
	stopLine int

	targets     []target
	layout      string
	headerWords []candidate
}

type target struct {
	price decimal.Decimal
	pct   decimal.Decimal
	line  int
}

type candidate struct {
	text string
	line int
}

func extract(lines []line) (*draft, *ParseError) {
	d := &draft{layout: "standard"}
	inTargets := false

	for _, l := range lines {
		for ti, t := range l.toks {
			if t.kind == tokWord {
				switch {
				case longWords[t.lower]:
					d.sawLong = true
				case shortWords[t.lower]:
					d.sawShort = true
				}
				if t.lower == "limit" {
					d.limitOrder = true
				}
			}
			if t.kind == tokLeverage && !d.hasLeverage && l.kind != lineTarget {
				d.leverage, d.leverageLine, d.hasLeverage = t.num, l.no, true
			}
			// ключ строки (Stop/Loss) не символ
			if t.kind == tokPair && d.symbol == "" && l.kind != lineTarget && (l.keyAt == 0 || ti >= l.keyAt) {
				d.symbol, d.symbolLine = t.text, l.no
				if strings.HasPrefix(strings.TrimSpace(l.raw), "#") {
					d.layout = "hashtag"
				}
			}
		}

		switch l.kind {
		case lineEntry:
			inTargets = false
			if d.hasEntry {
				continue
			}
			if err := d.parseEntry(l); err != nil {
				return nil, err
			}
		case lineStop:
			inTargets = false
			if d.hasStop {
				continue
			}
			v, err := firstNumber(l, "stop_loss")
			if err != nil {
				return nil, err
			}
			d.stop, d.stopLine, d.hasStop = v, l.no, true
		case lineTarget:
			inTargets = true
			if err := d.parseTargets(l, true); err != nil {
				return nil, err
			}
		case lineLeverage:
			inTargets = false
			if d.hasLeverage {
				continue
			}
			for _, t := range l.body() {
				if t.kind == tokLeverage || t.kind == tokNumber {
					d.leverage, d.leverageLine, d.hasLeverage = t.num, l.no, true
					break
				}
				if t.kind == tokBad {
					return nil, newErr(ErrInvalidLeverage, "leverage", l.no, t.text)
				}
			}
		case lineSymbol:
			inTargets = false
			d.layout = "keyed"
			d.collectCandidates(l)
		default:
			if inTargets && l.startsWithNumber() {
				if err := d.parseTargets(l, false); err != nil {
					return nil, err
				}
				continue
			}
			inTargets = false
			if l.kind == lineDirection || l.hasDirection() {
				d.collectCandidates(l)
			}
		}
	}
	return d, nil
}

func (d *draft) parseEntry(l line) *ParseError {
	body := l.body()
	for _, t := range body {
		if t.kind == tokWord && marketWords[t.lower] {
			d.hasEntry, d.market, d.entryLine = true, true, l.no
			return nil
		}
	}
	nums, err := numbers(body, "entry", l.no)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return newErr(ErrMalformedNumber, "entry", l.no, "no price")
	}
	d.hasEntry, d.entryLine = true, l.no
	if len(nums) == 1 {
		d.entry = nums[0]
		return nil
	}
	lo, hi := nums[0], nums[1]
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	d.entryLow, d.entryHigh = lo, hi
	d.entry = lo.Add(hi).Div(decimal.NewFromInt(2))
	return nil
}

func (d *draft) parseTargets(l line, keyed bool) *ParseError {
	body := l.toks
	if keyed {
		body = l.body()
	}
	dash := keyed && l.dashIndexAllowed()
	var cur *target
	found := 0
	for i, t := range body {
		switch t.kind {
		case tokBad:
			return newErr(ErrMalformedNumber, "take_profit", l.no, t.text)
		case tokNumber:
			if isIndexAt(body, i, dash) {
				continue
			}
			if !t.num.IsPositive() {
				return newErr(ErrMalformedNumber, "take_profit", l.no, t.text)
			}
			d.targets = append(d.targets, target{price: t.num, line: l.no})
			cur = &d.targets[len(d.targets)-1]
			found++
		case tokPercent:
			if cur != nil && cur.pct.IsZero() {
				cur.pct = t.num
			}
		}
	}
	if keyed && found == 0 && !l.onlyKey() {
		return newErr(ErrMalformedNumber, "take_profit", l.no, "no price")
	}
	return nil
}

func (d *draft) collectCandidates(l line) {
	for _, t := range l.body() {
		if t.kind != tokWord || nonSymbolWords[t.lower] || longWords[t.lower] || shortWords[t.lower] {
			continue
		}
		d.headerWords = append(d.headerWords, candidate{text: t.text, line: l.no})
	}
}

// pickSymbol: пара с разделителем, иначе слово с котировкой, иначе слово в верхнем регистре.
func (d *draft) pickSymbol(quote string) (string, int, bool) {
	if d.symbol != "" {
		return d.symbol, d.symbolLine, true
	}
	for _, c := range d.headerWords {
		if strings.HasSuffix(strings.ToUpper(c.text), quote) {
			return c.text, c.line, true
		}
	}
	for _, c := range d.headerWords {
		if c.text == strings.ToUpper(c.text) {
			return c.text, c.line, true
		}
	}
	if len(d.headerWords) > 0 {
		return d.headerWords[0].text, d.headerWords[0].line, true
	}
	return "", 0, false
}

func (p *Parser) build(d *draft) (models.TradeSignal, *ParseError) {
	raw, symLine, ok := d.pickSymbol(p.cfg.QuoteAsset)
	if !ok {
		return models.TradeSignal{}, newErr(ErrMissingSymbol, "symbol", 0, "")
	}
	symbol := normalizeSymbol(raw)
	if !symbolRe.MatchString(symbol) || !strings.HasSuffix(symbol, p.cfg.QuoteAsset) || len(symbol) <= len(p.cfg.QuoteAsset) {
		return models.TradeSignal{}, newErr(ErrInvalidSymbol, "symbol", symLine, raw)
	}

	var side models.Side
	switch {
	case d.sawLong && d.sawShort:
		return models.TradeSignal{}, newErr(ErrAmbiguousDirection, "side", 0, "")
	case d.sawLong:
		side = models.SideLong
	case d.sawShort:
		side = models.SideShort
	default:
		return models.TradeSignal{}, newErr(ErrMissingDirection, "side", 0, "")
	}

	if !d.hasLeverage {
		return models.TradeSignal{}, newErr(ErrMissingLeverage, "leverage", 0, "")
	}
	if !d.leverage.IsInteger() || d.leverage.LessThan(decimal.NewFromInt(1)) || d.leverage.GreaterThan(decimal.NewFromInt(1000)) {
		return models.TradeSignal{}, newErr(ErrInvalidLeverage, "leverage", d.leverageLine, d.leverage.String())
	}
	leverage := int(d.leverage.IntPart())

	if !d.hasEntry {
		return models.TradeSignal{}, newErr(ErrMissingEntry, "entry", 0, "")
	}

	sig := models.TradeSignal{
		Symbol:   symbol,
		Side:     side,
		Leverage: leverage,
		Market:   d.market,
		Layout:   d.layout,
	}
	if d.limitOrder && d.layout == "standard" {
		sig.Layout = "limit"
	}

	rate := decimal.NewFromInt(1)
	if p.mapper != nil {
		if m, ok := p.mapper.Lookup(symbol); ok {
			sig.Symbol = m.Symbol
			rate = m.Rate
		}
	}
	adj := func(v decimal.Decimal) decimal.Decimal {
		if v.IsZero() {
			return v
		}
		return v.Mul(rate)
	}

	if !d.market {
		if !d.entry.IsPositive() {
			return models.TradeSignal{}, newErr(ErrMalformedNumber, "entry", d.entryLine, d.entry.String())
		}
		sig.EntryPrice = adj(d.entry)
		sig.EntryLow = adj(d.entryLow)
		sig.EntryHigh = adj(d.entryHigh)
	}

	// стоп
	switch {
	case d.hasStop:
		if !d.stop.IsPositive() {
			return models.TradeSignal{}, newErr(ErrMalformedNumber, "stop_loss", d.stopLine, d.stop.String())
		}
		sig.StopLoss = adj(d.stop)
		if !d.market && !stopOnSide(side, sig.EntryPrice, sig.StopLoss) {
			return models.TradeSignal{}, newErr(ErrStopLossWrongSide, "stop_loss", d.stopLine,
				fmt.Sprintf("%s %s vs entry %s", side, sig.StopLoss, sig.EntryPrice))
		}
	case p.cfg.AutoStopLoss && p.cfg.AutoStopLossPct.IsPositive():
		pct := p.autoStopPct(leverage)
		sig.AutoStopLoss = true
		sig.AutoStopLossPct = pct
		if !d.market {
			sig.StopLoss = offset(sig.EntryPrice, side, pct.Neg())
		}
	default:
		return models.TradeSignal{}, newErr(ErrMissingStopLoss, "stop_loss", 0, "auto stop-loss disabled")
	}

	// цели
	for _, t := range d.targets {
		price := adj(t.price)
		if !d.market && !targetOnSide(side, sig.EntryPrice, price) {
			return models.TradeSignal{}, newErr(ErrTakeProfitWrongSide, "take_profit", t.line,
				fmt.Sprintf("%s %s vs entry %s", side, price, sig.EntryPrice))
		}
		sig.TakeProfits = append(sig.TakeProfits, models.TakeProfit{Price: price, AllocationPct: t.pct})
	}
	if len(sig.TakeProfits) == 0 && p.cfg.DefaultTakeProfitPct.IsPositive() {
		if d.market {
			sig.DefaultTakeProfitPct = p.cfg.DefaultTakeProfitPct
		} else {
			sig.TakeProfits = []models.TakeProfit{{
				Price:         offset(sig.EntryPrice, side, p.cfg.DefaultTakeProfitPct),
				AllocationPct: hundred,
			}}
		}
	}
	if err := p.fillAllocations(sig.TakeProfits); err != nil {
		return models.TradeSignal{}, err
	}
	return sig, nil
}

func (p *Parser) autoStopPct(leverage int) decimal.Decimal {
	pct := p.cfg.AutoStopLossPct
	if p.cfg.ScaleStopByLeverage && leverage > 0 {
		byLev := maxStopLevBase.Div(decimal.NewFromInt(int64(leverage)))
		if byLev.LessThan(pct) {
			pct = byLev
		}
	}
	return pct
}

// fillAllocations проставляет доли целям без процента: дефолт, если влезает, иначе поровну из остатка.
func (p *Parser) fillAllocations(tps []models.TakeProfit) *ParseError {
	if len(tps) == 0 {
		return nil
	}
	given := decimal.Zero
	missing := 0
	for _, tp := range tps {
		if tp.AllocationPct.IsPositive() {
			given = given.Add(tp.AllocationPct)
		} else {
			missing++
		}
	}
	if given.GreaterThan(hundred) {
		return newErr(ErrAllocationOverflow, "take_profit", 0, given.String()+"%")
	}
	if missing == 0 {
		return nil
	}

	remaining := hundred.Sub(given)
	if !remaining.IsPositive() {
		return newErr(ErrAllocationOverflow, "take_profit", 0, "no allocation left for targets without percent")
	}
	n := decimal.NewFromInt(int64(missing))
	share := remaining.Div(n).Truncate(4)
	if def := p.cfg.DefaultAllocationPct; def.IsPositive() && def.Mul(n).LessThanOrEqual(remaining) {
		share = def
	}
	for i := range tps {
		if !tps[i].AllocationPct.IsPositive() {
			tps[i].AllocationPct = share
		}
	}
	return nil
}

func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("#", "", "/", "", "-", "", "_", "").Replace(s)
}

func stopOnSide(side models.Side, entry, stop decimal.Decimal) bool {
	if side == models.SideLong {
		return stop.LessThan(entry)
	}
	return stop.GreaterThan(entry)
}

func targetOnSide(side models.Side, entry, tp decimal.Decimal) bool {
	if side == models.SideLong {
		return tp.GreaterThan(entry)
	}
	return tp.LessThan(entry)
}

// offset сдвигает цену на pct процентов в сторону прибыли позиции (отрицательный pct в сторону убытка).
func offset(price decimal.Decimal, side models.Side, pct decimal.Decimal) decimal.Decimal {
	k := pct.Div(hundred).Mul(side.Sign())
	return price.Mul(decimal.NewFromInt(1).Add(k))
}
