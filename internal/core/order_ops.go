package core

import (
	"fmt"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/order"
	"PerpVAMM/internal/state"
)

func (ch *ClearingHouse) placeOrder(t *txn, d *event.PlaceOrder) error {
	u, err := t.user(d.Signer())
	if err != nil {
		return err
	}
	if err := t.settleFunding(u); err != nil {
		return err
	}
	m, err := t.market(d.Params.MarketIndex)
	if err != nil {
		return err
	}
	env, err := t.orderEnv(m)
	if err != nil {
		return err
	}
	b, err := t.book(u.ID, m.Index)
	if err != nil {
		return err
	}
	o, err := order.Place(b, u, d.Params, env, heldDiscountTokens(u), t.now)
	if err != nil {
		return err
	}
	_, err = t.record(&event.OrderRecord{User: u.ID, Order: *o, Action: state.OrderActionPlace})
	return err
}

func (ch *ClearingHouse) cancelOrder(t *txn, d *event.CancelOrder) error {
	u, err := t.user(d.Signer())
	if err != nil {
		return err
	}
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	env, err := t.orderEnv(m)
	if err != nil {
		return err
	}
	b, err := t.book(u.ID, m.Index)
	if err != nil {
		return err
	}
	o, err := order.Cancel(b, d.OrderIndex, env)
	if err != nil {
		return err
	}
	_, err = t.record(&event.OrderRecord{User: u.ID, Order: *o, Action: state.OrderActionCancel})
	return err
}

// fillOrder is signed by the filler, who may be the order's owner.
func (ch *ClearingHouse) fillOrder(t *txn, d *event.FillOrder) error {
	u, err := t.user(d.User)
	if err != nil {
		return err
	}
	filler, err := t.user(d.Signer())
	if err != nil {
		return fmt.Errorf("filler: %w", err)
	}
	if err := t.settleFunding(u); err != nil {
		return err
	}

	var referrer *state.User
	if u.Referrer != nil {
		ref, found, err := t.maybeUser(*u.Referrer)
		if err != nil {
			return err
		}
		if found {
			referrer = ref
		}
	}

	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	env, err := t.orderEnv(m)
	if err != nil {
		return err
	}
	b, err := t.book(u.ID, m.Index)
	if err != nil {
		return err
	}
	holdings, err := t.holdings(u.ID)
	if err != nil {
		return err
	}

	f, err := order.FillOrder(b, d.OrderIndex, order.Parties{User: u, Filler: filler, Referrer: referrer}, holdings, env, t.now)
	if err != nil {
		return err
	}

	tradeID, err := t.record(&event.TradeRecord{
		User:             u.ID,
		MarketIndex:      m.Index,
		Direction:        f.Direction,
		BaseAssetAmount:  f.BaseAssetAmount,
		QuoteAssetAmount: f.QuoteAssetAmount,
		MarkPriceBefore:  f.MarkPriceBefore,
		MarkPriceAfter:   f.MarkPriceAfter,
		Fee:              f.Fee.UserFee,
		ReferrerReward:   f.Fee.ReferrerReward,
		RefereeDiscount:  f.Fee.RefereeDiscount,
		TokenDiscount:    f.Fee.TokenDiscount,
		OraclePrice:      f.OraclePrice,
	})
	if err != nil {
		return err
	}
	if _, err := t.record(&event.OrderRecord{
		User:                    u.ID,
		Order:                   f.Order,
		Action:                  state.OrderActionFill,
		Filler:                  filler.ID,
		TradeRecordID:           tradeID,
		BaseAssetAmountFilled:   f.BaseAssetAmount,
		QuoteAssetAmountFilled:  f.QuoteAssetAmount,
		Fee:                     f.Fee.UserFee,
		FillerReward:            f.Fee.FillerReward,
		QuoteAssetAmountSurplus: f.QuoteAssetAmountSurplus,
	}); err != nil {
		return err
	}
	return t.updateFundingRate(m, env.Oracle)
}

// expireOrders is signed by the filler.
func (ch *ClearingHouse) expireOrders(t *txn, d *event.ExpireOrders) error {
	u, err := t.user(d.User)
	if err != nil {
		return err
	}
	filler, err := t.user(d.Signer())
	if err != nil {
		return fmt.Errorf("filler: %w", err)
	}
	if err := t.settleFunding(u); err != nil {
		return err
	}
	books, err := t.userBooks(u.ID)
	if err != nil {
		return err
	}
	expired, err := order.ExpireOrders(u, filler, books)
	if err != nil {
		return err
	}
	for _, e := range expired {
		if _, err := t.record(&event.OrderRecord{
			User:         u.ID,
			Order:        e.Order,
			Action:       state.OrderActionExpire,
			Filler:       filler.ID,
			Fee:          e.Order.Fee,
			FillerReward: e.FillerReward,
		}); err != nil {
			return err
		}
	}
	return nil
}
