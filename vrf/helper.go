package vrf

import (
	"math/big"
	"strconv"

	"github.com/dedis/raffle/chain"
	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

const (
	keySubNonce      = "sub_nonce"
	keyNextRequestID = "next_request_id"
	prefixSub        = "sub:"
	prefixRequest    = "req:"
)

func subKey(subID *big.Int) string {
	return prefixSub + subID.Text(16)
}

func requestKey(id uint64) string {
	return prefixRequest + strconv.FormatUint(id, 10)
}

func getCounter(ctx *chain.Context, key string) (uint64, error) {
	buf, ok := ctx.Get(key)
	if !ok {
		return 0, nil
	}
	c := &counter{}
	if err := protobuf.Decode(buf, c); err != nil {
		return 0, xerrors.Errorf("couldn't decode %s: %v", key, err)
	}
	return c.Value, nil
}

func putCounter(ctx *chain.Context, key string, v uint64) error {
	buf, err := protobuf.Encode(&counter{Value: v})
	if err != nil {
		return xerrors.Errorf("couldn't encode %s: %v", key, err)
	}
	return ctx.Put(key, buf)
}

func getSubscription(ctx *chain.Context, subID *big.Int) (*subscriptionStorage, error) {
	buf, ok := ctx.Get(subKey(subID))
	if !ok {
		return nil, xerrors.Errorf("subscription %s: %w", subID, ErrInvalidSubscription)
	}
	sub := &subscriptionStorage{}
	if err := protobuf.Decode(buf, sub); err != nil {
		return nil, xerrors.Errorf("couldn't decode subscription: %v", err)
	}
	return sub, nil
}

func putSubscription(ctx *chain.Context, subID *big.Int, sub *subscriptionStorage) error {
	buf, err := protobuf.Encode(sub)
	if err != nil {
		return xerrors.Errorf("couldn't encode subscription: %v", err)
	}
	return ctx.Put(subKey(subID), buf)
}

func getRequest(ctx *chain.Context, id uint64) (*requestStorage, error) {
	buf, ok := ctx.Get(requestKey(id))
	if !ok {
		return nil, xerrors.Errorf("request %d: %w", id, ErrInvalidRequest)
	}
	req := &requestStorage{}
	if err := protobuf.Decode(buf, req); err != nil {
		return nil, xerrors.Errorf("couldn't decode request: %v", err)
	}
	return req, nil
}

func putRequest(ctx *chain.Context, id uint64, req *requestStorage) error {
	buf, err := protobuf.Encode(req)
	if err != nil {
		return xerrors.Errorf("couldn't encode request: %v", err)
	}
	return ctx.Put(requestKey(id), buf)
}

func (s *subscriptionStorage) isConsumer(addr common.Address) bool {
	for _, c := range s.Consumers {
		if c.Address == addr {
			return true
		}
	}
	return false
}

func (s *subscriptionStorage) export() *Subscription {
	sub := &Subscription{
		Owner:         s.Owner,
		Balance:       s.Balance.Big(),
		NativeBalance: s.NativeBalance.Big(),
		ReqCount:      s.ReqCount,
	}
	for _, c := range s.Consumers {
		sub.Consumers = append(sub.Consumers, c.Address)
	}
	return sub
}

func (r *requestStorage) export(id uint64) *Request {
	return &Request{
		ID:               id,
		SubID:            r.SubID.Big(),
		Consumer:         r.Consumer,
		KeyHash:          r.KeyHash,
		PreSeed:          r.PreSeed,
		BlockNumber:      r.BlockNumber,
		CallbackGasLimit: r.CallbackGasLimit,
		NumWords:         r.NumWords,
		NativePayment:    r.NativePayment,
	}
}

// EncodeParams encodes coordinator constructor parameters.
func EncodeParams(p *Params) ([]byte, error) {
	for _, v := range []*big.Int{p.BaseFee, p.GasPriceLink, p.WeiPerUnitLink} {
		if err := chain.CheckAmount(v); err != nil {
			return nil, err
		}
	}
	buf, err := protobuf.Encode(&encodedParams{
		BaseFee:        chain.BigToHash(p.BaseFee),
		GasPriceLink:   chain.BigToHash(p.GasPriceLink),
		WeiPerUnitLink: chain.BigToHash(p.WeiPerUnitLink),
		ProvingKey:     p.ProvingKey,
	})
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode coordinator params: %v", err)
	}
	return buf, nil
}

// DecodeParams decodes coordinator constructor parameters.
func DecodeParams(buf []byte) (*Params, error) {
	ep := &encodedParams{}
	if err := protobuf.Decode(buf, ep); err != nil {
		return nil, xerrors.Errorf("couldn't decode coordinator params: %v", err)
	}
	return &Params{
		BaseFee:        ep.BaseFee.Big(),
		GasPriceLink:   ep.GasPriceLink.Big(),
		WeiPerUnitLink: ep.WeiPerUnitLink.Big(),
		ProvingKey:     ep.ProvingKey,
	}, nil
}
