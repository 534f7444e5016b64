package blockchain

import (
	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
)

// FeeResetWindow is the number of trailing blocks an account's own
// transaction count is measured over before its personal fee multiplier
// resets to baseline.
const FeeResetWindow = 1440

// NetworkFeeAvgWindow is the number of trailing blocks the network-wide
// receipt count is averaged over when computing the base network fee.
const NetworkFeeAvgWindow = 20

// GraelFeeMin is the floor for the network fee component, below which
// net_fee never falls regardless of how quiet the network has been.
var GraelFeeMin = asset.New(10) // 0.0010 GRAEL

// GraelFeeMult is the per-recent-transaction growth factor applied to an
// account's own fee multiplier; a 64-minor-unit (0.0064 GRAEL) step keeps
// ordinary usage near the floor while still rising noticeably under rapid
// repeat transactions.
var GraelFeeMult = asset.New(64)

// GraelFeeNetMult is the per-recent-receipt growth factor applied to the
// network-wide fee floor.
var GraelFeeNetMult = asset.New(4)

// GraelAccCreateFeeMult multiplies net_fee to derive the fee an AccountTx
// must carry, reflecting the larger index footprint of a new account.
var GraelAccCreateFeeMult = asset.New(100000) // x10

// feeWindow tracks the bookkeeping the fee schedule needs: each account's
// recent transaction heights (for account_fee_multiplier) and the total
// receipt count over the trailing NetworkFeeAvgWindow blocks (for net_fee).
// This is an in-memory approximation recomputed from the block log on
// Reindex; it is not itself part of the persisted index.
type feeWindow struct {
	recentTxHeights map[account.ID][]uint64
	recentReceiptCounts []uint64 // ring of per-block receipt counts, oldest first
}

func newFeeWindow() *feeWindow {
	return &feeWindow{recentTxHeights: make(map[account.ID][]uint64)}
}

func (fw *feeWindow) recordBlock(height uint64, receiptsByAccount map[account.ID]int, totalReceipts int) {
	for id, n := range receiptsByAccount {
		heights := fw.recentTxHeights[id]
		for i := 0; i < n; i++ {
			heights = append(heights, height)
		}
		fw.recentTxHeights[id] = pruneHeights(heights, height)
	}

	fw.recentReceiptCounts = append(fw.recentReceiptCounts, uint64(totalReceipts))
	if len(fw.recentReceiptCounts) > NetworkFeeAvgWindow {
		fw.recentReceiptCounts = fw.recentReceiptCounts[len(fw.recentReceiptCounts)-NetworkFeeAvgWindow:]
	}
}

func pruneHeights(heights []uint64, currentHeight uint64) []uint64 {
	kept := heights[:0]
	for _, h := range heights {
		if currentHeight-h < FeeResetWindow {
			kept = append(kept, h)
		}
	}
	return kept
}

// accountFeeCount reports how many of id's transactions landed
// within the trailing FeeResetWindow blocks as of currentHeight.
func (fw *feeWindow) accountFeeCount(id account.ID, currentHeight uint64) int {
	heights := fw.recentTxHeights[id]
	count := 0
	for _, h := range heights {
		if currentHeight-h < FeeResetWindow {
			count++
		}
	}
	return count
}

// netFee computes the network-wide base fee: GraelFeeMin grown
// geometrically by GraelFeeNetMult once per receipt-per-block averaged over
// NetworkFeeAvgWindow, i.e. busier recent blocks raise the floor for
// everyone until they scroll out of the window.
func (fw *feeWindow) netFee() asset.Asset {
	if len(fw.recentReceiptCounts) == 0 {
		return GraelFeeMin
	}
	var total uint64
	for _, n := range fw.recentReceiptCounts {
		total += n
	}
	avg := total / uint64(len(fw.recentReceiptCounts))

	fee := GraelFeeMin
	for i := uint64(0); i < avg; i++ {
		grown, ok := fee.Add(scaleByMult(fee, GraelFeeNetMult))
		if !ok {
			break
		}
		fee = grown
	}
	return fee
}

// accountFeeMultiplier computes the fee required of from: net_fee grown
// geometrically once per recent transaction from that account within
// FeeResetWindow.
func (fw *feeWindow) accountFeeMultiplier(id account.ID, currentHeight uint64) asset.Asset {
	fee := fw.netFee()
	count := fw.accountFeeCount(id, currentHeight)
	for i := 0; i < count; i++ {
		grown, ok := fee.Add(scaleByMult(fee, GraelFeeMult))
		if !ok {
			break
		}
		fee = grown
	}
	return fee
}

// scaleByMult returns base scaled by mult/10000 (mult is itself an Asset,
// i.e. a fixed-point fraction in the same four-digit precision as every
// other amount in the system).
func scaleByMult(base, mult asset.Asset) asset.Asset {
	scaled, ok := base.Mul(mult)
	if !ok {
		return asset.Asset{}
	}
	return scaled
}

// accountCreateFee derives the fee an AccountTx must carry.
func accountCreateFee(net asset.Asset) asset.Asset {
	fee, ok := scaleByMultOrZero(net, GraelAccCreateFeeMult)
	if !ok {
		return net
	}
	return fee
}

func scaleByMultOrZero(base, mult asset.Asset) (asset.Asset, bool) {
	return base.Mul(mult)
}
