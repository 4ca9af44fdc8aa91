package service

import "github.com/shopspring/decimal"

type instrumentDTO struct {
	InstID   string `json:"instId"`
	TickSz   string `json:"tickSz"`
	LotSz    string `json:"lotSz"`
	MinSz    string `json:"minSz"`
	CtVal    string `json:"ctVal"`
	CtMult   string `json:"ctMult"`
	State    string `json:"state"`
	MaxMktSz string `json:"maxMktSz"`
	MaxLmtSz string `json:"maxLmtSz"`
	CtType   string `json:"ctType"` // "linear" / "inverse"
}

// instMeta контрактные параметры. Количество в базовой валюте = контракты * ctVal.
type instMeta struct {
	ctVal  decimal.Decimal
	lotSz  decimal.Decimal
	minSz  decimal.Decimal
	tickSz decimal.Decimal
	maxSz  decimal.Decimal
}

type orderDTO struct {
	InstID     string `json:"instId"`
	OrdID      string `json:"ordId"`
	ClOrdID    string `json:"clOrdId"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide"`
	OrdType    string `json:"ordType"`
	Px         string `json:"px"`
	Sz         string `json:"sz"`
	AccFillSz  string `json:"accFillSz"`
	AvgPx      string `json:"avgPx"`
	Fee        string `json:"fee"`
	State      string `json:"state"`
	ReduceOnly string `json:"reduceOnly"`
	UTime      string `json:"uTime"`
}

type algoDTO struct {
	InstID      string `json:"instId"`
	AlgoID      string `json:"algoId"`
	AlgoClOrdID string `json:"algoClOrdId"`
	Side        string `json:"side"`
	PosSide     string `json:"posSide"`
	OrdType     string `json:"ordType"`
	Sz          string `json:"sz"`
	State       string `json:"state"`
	SlTriggerPx string `json:"slTriggerPx"`
	TpTriggerPx string `json:"tpTriggerPx"`
	// OrdID рыночный ордер, созданный при срабатывании.
	OrdID     string   `json:"ordId"`
	OrdIDList []string `json:"ordIdList"`
	ActualSz  string   `json:"actualSz"`
	UTime     string   `json:"uTime"`
}

type positionDTO struct {
	InstID  string `json:"instId"`
	Pos     string `json:"pos"`
	PosSide string `json:"posSide"`
	AvgPx   string `json:"avgPx"`
	MarkPx  string `json:"markPx"`
	Last    string `json:"last"`
}

type balanceDTO struct {
	Details []struct {
		Ccy      string `json:"ccy"`
		AvailEq  string `json:"availEq"`
		AvailBal string `json:"availBal"`
		Eq       string `json:"eq"`
	} `json:"details"`
}
