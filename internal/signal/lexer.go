package signal

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokPercent
	tokLeverage
	tokPair
	tokSep
	tokBad
)

type token struct {
	kind  tokenKind
	text  string
	lower string
	num   decimal.Decimal
}

var thousandsRe = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)

// cleanText убирает markdown-оформление, которым любят украшать сигналы.
func cleanText(s string) string {
	r := strings.NewReplacer("**", "", "__", "", "~~", "", "`", "", "*", "")
	return r.Replace(s)
}

func isLeverageSuffix(s string) bool {
	switch s {
	case "x", "X", "х", "Х":
		return true
	}
	return false
}

func isLetter(r rune) bool { return unicode.IsLetter(r) }
func isDigit(r rune) bool  { return r >= '0' && r <= '9' }

// lexLine режет одну строку на токены. Никогда не паникует, мусор уходит в tokSep/tokBad.
// quote котировка, с которой пара может быть записана через дефис (BTC-USDT).
func lexLine(line, quote string) []token {
	rs := []rune(line)
	var out []token
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '#' && i+1 < len(rs) && (isLetter(rs[i+1]) || isDigit(rs[i+1])):
			j := i + 1
			for j < len(rs) && (isLetter(rs[j]) || isDigit(rs[j]) || rs[j] == '/' || rs[j] == '_' || rs[j] == '-') {
				j++
			}
			txt := strings.TrimRight(string(rs[i+1:j]), "/-_")
			out = append(out, token{kind: tokPair, text: txt, lower: strings.ToLower(txt)})
			i = j

		case isLetter(r):
			j := i
			for j < len(rs) && (isLetter(rs[j]) || isDigit(rs[j])) {
				j++
			}
			wr := rs[i:j]
			// x20 / х20
			if len(wr) > 1 && isLeverageSuffix(string(wr[0])) && allDigits(string(wr[1:])) {
				out = append(out, leverageToken(string(wr[1:]), string(wr)))
				i = j
				continue
			}
			var tok token
			tok, i = wordOrPair(rs, i, j, quote)
			out = append(out, tok)

		case isDigit(r):
			j := i
			for j < len(rs) && (isDigit(rs[j]) || rs[j] == '.' || rs[j] == ',') {
				j++
			}
			// хвостовые разделители ("51000," / "2.") не часть числа
			end := j
			for end > i && (rs[end-1] == '.' || rs[end-1] == ',') {
				end--
			}
			raw := string(rs[i:end])

			if j == end && j < len(rs) && isLetter(rs[j]) {
				k := j
				for k < len(rs) && (isLetter(rs[k]) || isDigit(rs[k])) {
					k++
				}
				suffix := string(rs[j:k])
				switch {
				case isLeverageSuffix(suffix):
					out = append(out, leverageToken(raw, raw+suffix))
					i = k
				case allDigits(raw) && len([]rune(suffix)) >= 3:
					// 1000PEPEUSDT, 1INCH/USDT
					var tok token
					tok, i = wordOrPair(rs, i, k, quote)
					out = append(out, tok)
				default:
					out = append(out, token{kind: tokBad, text: raw + suffix, lower: strings.ToLower(raw + suffix)})
					i = k
				}
				continue
			}

			tok := numberToken(raw)
			if j == end && j < len(rs) && rs[j] == '%' && tok.kind == tokNumber {
				tok.kind = tokPercent
				j++
			}
			out = append(out, tok)
			if end < j && tok.kind != tokPercent {
				out = append(out, token{kind: tokSep, text: string(rs[end:j])})
			}
			i = j

		default:
			out = append(out, token{kind: tokSep, text: string(r)})
			i++
		}
	}
	return out
}

// wordOrPair слово rs[i:j] либо пара вида BTC/USDT, BTC-USDT.
// Через дефис пишут и ключи (STOP-LOSS, TAKE-PROFIT), поэтому там нужна котировка.
func wordOrPair(rs []rune, i, j int, quote string) (token, int) {
	word := string(rs[i:j])
	if j+1 < len(rs) && (rs[j] == '/' || rs[j] == '-') && isLetter(rs[j+1]) {
		k := j + 1
		for k < len(rs) && (isLetter(rs[k]) || isDigit(rs[k])) {
			k++
		}
		if rs[j] == '/' || (quote != "" && strings.EqualFold(string(rs[j+1:k]), quote)) {
			txt := string(rs[i:k])
			return token{kind: tokPair, text: txt, lower: strings.ToLower(txt)}, k
		}
	}
	return token{kind: tokWord, text: word, lower: strings.ToLower(word)}, j
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isDigit(r) {
			return false
		}
	}
	return true
}

func leverageToken(num, text string) token {
	t := token{kind: tokLeverage, text: text, lower: strings.ToLower(text)}
	d, err := decimal.NewFromString(num)
	if err != nil {
		t.kind = tokBad
		return t
	}
	t.num = d
	return t
}

// numberToken понимает "50000", "0.1724", "50,000.5" и "0,5".
func numberToken(raw string) token {
	t := token{kind: tokNumber, text: raw, lower: raw}
	s := raw
	switch {
	case thousandsRe.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1 && !strings.Contains(s, "."):
		s = strings.Replace(s, ",", ".", 1)
	case strings.Contains(s, ","):
		t.kind = tokBad
		return t
	}
	if strings.Count(s, ".") > 1 {
		t.kind = tokBad
		return t
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.kind = tokBad
		return t
	}
	t.num = d
	return t
}
