package core

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/dkeye/rtcsignal/internal/core Answerer,CandidateSink
