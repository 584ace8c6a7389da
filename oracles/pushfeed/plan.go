package pushfeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Plan is the route used to price a pair through the feeds.
type Plan uint8

const (
	NoPlan Plan = iota
	// Direct uses one feed between two assets that are not anchors, in
	// either direction, or no feed at all for the same asset.
	Direct
	// AnchorUSD prices an asset against USD itself.
	AnchorUSD
	// AnchorETH prices an asset against ETH itself.
	AnchorETH
	// CrossAnchor goes through USD on one side and ETH on the other, joined by the ETH/USD feed.
	CrossAnchor
	// BridgedUSD goes through the USD feeds of both assets.
	BridgedUSD
	// BridgedETH goes through the ETH feeds of both assets.
	BridgedETH
)

func (p Plan) String() string {
	switch p {
	case NoPlan:
		return "none"
	case Direct:
		return "direct"
	case AnchorUSD:
		return "anchor-usd"
	case AnchorETH:
		return "anchor-eth"
	case CrossAnchor:
		return "cross-anchor"
	case BridgedUSD:
		return "bridged-usd"
	case BridgedETH:
		return "bridged-eth"
	default:
		return fmt.Sprintf("plan(%d)", uint8(p))
	}
}

// hop is one leg of a route. A hop between equal assets is the identity.
type hop struct {
	from, to common.Address
}

// feedExists reports whether the registry has a base/quote feed.
func (b *Backend) feedExists(ctx context.Context, base, quote common.Address) (bool, error) {
	_, err := b.feeds.Decimals(ctx, base, quote)
	if errors.Is(err, ErrFeedNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("feed %s/%s: %w", base, quote, err)
	}
	return true, nil
}

func isAnchor(token common.Address) bool {
	return token == USD || token == ETH
}

// routesTo reports whether token is anchor or has a feed to it.
func (b *Backend) routesTo(ctx context.Context, token, anchor common.Address) (bool, error) {
	if token == anchor {
		return true, nil
	}
	return b.feedExists(ctx, token, anchor)
}

// classify picks the first plan that the feeds can serve for the mapped tokens.
func (b *Backend) classify(ctx context.Context, mappedA, mappedB common.Address) (Plan, error) {
	if mappedA == mappedB {
		return Direct, nil
	}
	// Pairs involving an anchor are classified below, where a forward
	// feed to the anchor wins over a reverse one.
	if !isAnchor(mappedA) && !isAnchor(mappedB) {
		for _, dir := range []hop{{mappedA, mappedB}, {mappedB, mappedA}} {
			ok, err := b.feedExists(ctx, dir.from, dir.to)
			if err != nil {
				return NoPlan, err
			}
			if ok {
				return Direct, nil
			}
		}
	}

	for _, anchor := range []struct {
		token common.Address
		plan  Plan
	}{{USD, AnchorUSD}, {ETH, AnchorETH}} {
		if (mappedA == anchor.token) == (mappedB == anchor.token) {
			continue
		}
		other := mappedA
		if other == anchor.token {
			other = mappedB
		}
		ok, err := b.feedExists(ctx, other, anchor.token)
		if err != nil {
			return NoPlan, err
		}
		if ok {
			return anchor.plan, nil
		}
		// A feed quoted in the other asset is still a direct feed.
		ok, err = b.feedExists(ctx, anchor.token, other)
		if err != nil {
			return NoPlan, err
		}
		if ok {
			return Direct, nil
		}
	}

	for _, anchor := range []struct {
		token common.Address
		plan  Plan
	}{{USD, BridgedUSD}, {ETH, BridgedETH}} {
		okA, err := b.feedExists(ctx, mappedA, anchor.token)
		if err != nil {
			return NoPlan, err
		}
		okB, err := b.feedExists(ctx, mappedB, anchor.token)
		if err != nil {
			return NoPlan, err
		}
		if okA && okB {
			return anchor.plan, nil
		}
	}

	ok, err := b.feedExists(ctx, ETH, USD)
	if err != nil || !ok {
		return NoPlan, err
	}
	for _, side := range [][2]common.Address{{mappedA, mappedB}, {mappedB, mappedA}} {
		ok, err := b.crossRoute(ctx, side[0], side[1])
		if err != nil {
			return NoPlan, err
		}
		if ok {
			return CrossAnchor, nil
		}
	}
	return NoPlan, nil
}

// crossRoute reports whether usdSide routes to USD and ethSide routes to ETH.
func (b *Backend) crossRoute(ctx context.Context, usdSide, ethSide common.Address) (bool, error) {
	ok, err := b.routesTo(ctx, usdSide, USD)
	if err != nil || !ok {
		return false, err
	}
	return b.routesTo(ctx, ethSide, ETH)
}

// route lays out the hops that price mappedIn in mappedOut under plan.
func (b *Backend) route(ctx context.Context, plan Plan, mappedIn, mappedOut common.Address) ([]hop, error) {
	switch plan {
	case Direct, AnchorUSD, AnchorETH:
		return []hop{{mappedIn, mappedOut}}, nil
	case BridgedUSD:
		return []hop{{mappedIn, USD}, {USD, mappedOut}}, nil
	case BridgedETH:
		return []hop{{mappedIn, ETH}, {ETH, mappedOut}}, nil
	case CrossAnchor:
		viaUSD, err := b.crossRoute(ctx, mappedIn, mappedOut)
		if err != nil {
			return nil, err
		}
		if viaUSD {
			return []hop{{mappedIn, USD}, {USD, ETH}, {ETH, mappedOut}}, nil
		}
		return []hop{{mappedIn, ETH}, {ETH, USD}, {USD, mappedOut}}, nil
	default:
		return nil, fmt.Errorf("pushfeed: unknown plan %s", plan)
	}
}
