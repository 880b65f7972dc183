// Package state defines the fixed-order numeric vector the controller feeds
// to the policy. The layout is frozen: trained policy weights are indexed by
// position, so reordering entries silently corrupts decisions.
package state

// VectorSize is the number of elements in the policy state vector.
const VectorSize = 20

// Vector element indices.
const (
	IdxPosition     = iota // held direction: -1 short, 0 flat, +1 long
	IdxPnL                 // unrealized pnl / equity
	IdxDuration            // cycles in position / 100, capped at 1
	IdxSignal              // centered prediction signal: signal - 1
	IdxConfidence          // prediction confidence [0,1]
	IdxTarget              // prediction fractional target
	IdxReturn20            // 20-period return
	IdxNATR                // normalized ATR
	IdxRSI                 // RSI / 100
	IdxOIDivergence        // OI-price divergence over 20 periods
	IdxOIChange            // OI change over 20 periods
	IdxFunding             // funding rate x 100
	IdxVolumeRatio         // volume / trailing average
	IdxBBPosition          // position within the Bollinger band
	IdxEquityRatio         // equity / initial equity
	IdxDrawdown            // fractional drawdown from peak
	IdxBalanceRatio        // available / total balance
	IdxSharpe              // recent Sharpe estimate
	IdxLiqDistance         // normalized liquidation distance [0,1]
	IdxTradesToday         // trades today / 20
)
