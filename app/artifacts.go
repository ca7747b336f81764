package app

import (
	"godetect/domain/signal"
	"godetect/internal/mle"
	"godetect/internal/pipeline"
)

// Resources exchanged between the stages of one detection run
var (
	DataKey           = pipeline.NewKey[*signal.CountSeries]("data")
	CovarianceKey     = pipeline.NewKey[*signal.Covariance]("covariance")
	OperatorKey       = pipeline.NewKey[*signal.Covariance]("whitening_operator")
	TemplateBankKey   = pipeline.NewKey[*signal.TemplateBank]("template_bank")
	WhitenedDataKey   = pipeline.NewKey[*signal.CountSeries]("whitened_data")
	WhitenedBankKey   = pipeline.NewKey[*signal.TemplateBank]("whitened_template_bank")
	GridResultKey     = pipeline.NewKey[*mle.GridResult]("grid_mle")
	ContinuousKey     = pipeline.NewKey[[]signal.FluxEstimate]("continuous_mle")
	EnergyTestKey     = pipeline.NewKey[[]signal.TestStatistic]("energy_test")
	NeymanPearsonKey  = pipeline.NewKey[[]signal.TestStatistic]("neyman_pearson_test")
	MatchedFilterKey  = pipeline.NewKey[[]signal.CostMap]("matched_filter_map")
	CorrelationMapKey = pipeline.NewKey[[]signal.CostMap]("correlation_map")
)
