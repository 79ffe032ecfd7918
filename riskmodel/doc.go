// Package riskmodel defines the vocabulary of the risk computation core:
// metric types and their key schemas, append-only metric points, ranking
// thresholds and weights, metric configuration shapes, and the domain
// errors the reactor routes on.
//
// Everything here is pure data. Persistence lives in metricstore and
// configstore; computation lives in catalog and reactor.
package riskmodel
