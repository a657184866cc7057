package vrf

import (
	"encoding/binary"
	"math/big"

	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/vrf/base"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// ContractCoordinatorID is the contract id of the mock coordinator.
const ContractCoordinatorID = "vrfCoordinatorV2_5Mock"

func init() {
	log.ErrFatal(chain.RegisterContract(ContractCoordinatorID, contractCoordinatorFromBytes))
}

// NewProvingKey generates a BLS secret for the coordinator.
func NewProvingKey() ([]byte, error) {
	sk, _ := bls.NewKeyPair(base.Suite, random.New())
	return sk.MarshalBinary()
}

// contractCoordinator keeps subscriptions and pending requests, and
// fulfills requests with words derived from a BLS signature of the request
// seed. Unlike a production coordinator, anyone may trigger a fulfillment.
type contractCoordinator struct {
	params *Params
	sk     kyber.Scalar
	pk     kyber.Point
}

func contractCoordinatorFromBytes(in []byte) (chain.Contract, error) {
	p, err := DecodeParams(in)
	if err != nil {
		return nil, err
	}
	sk := base.Suite.G2().Scalar()
	if err := sk.UnmarshalBinary(p.ProvingKey); err != nil {
		return nil, xerrors.Errorf("couldn't decode proving key: %v", err)
	}
	return &contractCoordinator{
		params: p,
		sk:     sk,
		pk:     base.Suite.G2().Point().Mul(sk, nil),
	}, nil
}

func (c *contractCoordinator) ContractID() string {
	return ContractCoordinatorID
}

func (c *contractCoordinator) Init(ctx *chain.Context) error {
	return putCounter(ctx, keyNextRequestID, 1)
}

// CreateSubscription allocates a subscription owned by the sender.
func (c *contractCoordinator) CreateSubscription(ctx *chain.Context) (*big.Int, error) {
	nonce, err := getCounter(ctx, keySubNonce)
	if err != nil {
		return nil, err
	}
	if err := putCounter(ctx, keySubNonce, nonce+1); err != nil {
		return nil, err
	}
	nb := make([]byte, 8)
	binary.BigEndian.PutUint64(nb, nonce)
	owner := ctx.Sender()
	self := ctx.Self()
	subID := new(big.Int).SetBytes(crypto.Keccak256(owner.Bytes(), self.Bytes(), nb))
	sub := &subscriptionStorage{Owner: owner}
	if err := putSubscription(ctx, subID, sub); err != nil {
		return nil, err
	}
	log.Lvlf2("subscription %s created by %s", subID, owner.Hex())
	return subID, ctx.Emit(EventSubscriptionCreated, &SubscriptionCreated{
		SubID: chain.BigToHash(subID),
		Owner: owner,
	})
}

// FundSubscription credits LINK to a subscription. There is no upper bound
// other than the balance fitting in a uint256.
func (c *contractCoordinator) FundSubscription(ctx *chain.Context, subID, amount *big.Int) error {
	if err := chain.CheckAmount(amount); err != nil {
		return err
	}
	sub, err := getSubscription(ctx, subID)
	if err != nil {
		return err
	}
	old := sub.Balance.Big()
	bal, err := addBalance(old, amount)
	if err != nil {
		return err
	}
	sub.Balance = chain.BigToHash(bal)
	if err := putSubscription(ctx, subID, sub); err != nil {
		return err
	}
	return ctx.Emit(EventSubscriptionFunded, &SubscriptionFunded{
		SubID:      chain.BigToHash(subID),
		OldBalance: chain.BigToHash(old),
		NewBalance: sub.Balance,
	})
}

// FundSubscriptionWithNative credits the value attached to the call to the
// native balance of a subscription.
func (c *contractCoordinator) FundSubscriptionWithNative(ctx *chain.Context, subID *big.Int) error {
	sub, err := getSubscription(ctx, subID)
	if err != nil {
		return err
	}
	old := sub.NativeBalance.Big()
	bal, err := addBalance(old, ctx.Value())
	if err != nil {
		return err
	}
	sub.NativeBalance = chain.BigToHash(bal)
	if err := putSubscription(ctx, subID, sub); err != nil {
		return err
	}
	return ctx.Emit(EventSubscriptionFundedWithNative, &SubscriptionFunded{
		SubID:      chain.BigToHash(subID),
		OldBalance: chain.BigToHash(old),
		NewBalance: sub.NativeBalance,
	})
}

// AddConsumer registers consumer on the subscription. Adding a registered
// consumer again is a no-op.
func (c *contractCoordinator) AddConsumer(ctx *chain.Context, subID *big.Int, consumer common.Address) error {
	sub, err := c.ownedSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub.isConsumer(consumer) {
		return nil
	}
	if len(sub.Consumers) >= MaxConsumers {
		return ErrTooManyConsumers
	}
	sub.Consumers = append(sub.Consumers, consumerEntry{Address: consumer})
	if err := putSubscription(ctx, subID, sub); err != nil {
		return err
	}
	log.Lvlf2("consumer %s added to subscription %s", consumer.Hex(), subID)
	return ctx.Emit(EventSubscriptionConsumerAdded, &SubscriptionConsumerAdded{
		SubID:    chain.BigToHash(subID),
		Consumer: consumer,
	})
}

// RemoveConsumer unregisters consumer from the subscription.
func (c *contractCoordinator) RemoveConsumer(ctx *chain.Context, subID *big.Int, consumer common.Address) error {
	sub, err := c.ownedSubscription(ctx, subID)
	if err != nil {
		return err
	}
	idx := -1
	for i, e := range sub.Consumers {
		if e.Address == consumer {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &InvalidConsumerError{SubID: subID, Consumer: consumer}
	}
	sub.Consumers = append(sub.Consumers[:idx], sub.Consumers[idx+1:]...)
	if err := putSubscription(ctx, subID, sub); err != nil {
		return err
	}
	return ctx.Emit(EventSubscriptionConsumerRemoved, &SubscriptionConsumerRemoved{
		SubID:    chain.BigToHash(subID),
		Consumer: consumer,
	})
}

// CancelSubscription deletes the subscription and refunds its native
// balance to to.
func (c *contractCoordinator) CancelSubscription(ctx *chain.Context, subID *big.Int, to common.Address) error {
	sub, err := c.ownedSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if err := ctx.Delete(subKey(subID)); err != nil {
		return err
	}
	if err := ctx.Emit(EventSubscriptionCanceled, &SubscriptionCanceled{
		SubID:        chain.BigToHash(subID),
		To:           to,
		AmountLink:   sub.Balance,
		AmountNative: sub.NativeBalance,
	}); err != nil {
		return err
	}
	if native := sub.NativeBalance.Big(); native.Sign() > 0 {
		if err := ctx.Transfer(to, native); err != nil {
			return xerrors.Errorf("couldn't refund subscription: %v", err)
		}
	}
	return nil
}

// GetSubscription returns the subscription record.
func (c *contractCoordinator) GetSubscription(ctx *chain.Context, subID *big.Int) (*Subscription, error) {
	sub, err := getSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	return sub.export(), nil
}

// PendingRequest returns a request that has not been fulfilled yet.
func (c *contractCoordinator) PendingRequest(ctx *chain.Context, id uint64) (*Request, error) {
	req, err := getRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return req.export(id), nil
}

// ProvingKey returns the public key verifying the randomness proofs.
func (c *contractCoordinator) ProvingKey() kyber.Point {
	return c.pk.Clone()
}

// RequestRandomWords records a request from the calling consumer and
// returns its id. The subscription is only read here; it is charged when
// the request is fulfilled.
func (c *contractCoordinator) RequestRandomWords(ctx *chain.Context, req *base.RandomWordsRequest) (uint64, error) {
	if req.NumWords > MaxNumWords {
		return 0, xerrors.Errorf("%d > %d: %w", req.NumWords, MaxNumWords, ErrNumWordsTooBig)
	}
	if req.CallbackGasLimit > MaxCallbackGasLimit {
		return 0, xerrors.Errorf("%d > %d: %w", req.CallbackGasLimit,
			MaxCallbackGasLimit, ErrGasLimitTooBig)
	}
	if req.SubID == nil {
		return 0, ErrInvalidSubscription
	}
	sub, err := getSubscription(ctx, req.SubID)
	if err != nil {
		return 0, err
	}
	consumer := ctx.Sender()
	if !sub.isConsumer(consumer) {
		return 0, &InvalidConsumerError{SubID: req.SubID, Consumer: consumer}
	}
	funds := sub.Balance
	if req.NativePayment {
		funds = sub.NativeBalance
	}
	if funds.Big().Sign() == 0 {
		return 0, xerrors.Errorf("subscription %s has no funds: %w", req.SubID,
			ErrInvalidSubscription)
	}

	id, err := getCounter(ctx, keyNextRequestID)
	if err != nil {
		return 0, err
	}
	if err := putCounter(ctx, keyNextRequestID, id+1); err != nil {
		return 0, err
	}
	idb := make([]byte, 8)
	binary.BigEndian.PutUint64(idb, id)
	preSeed := crypto.Keccak256Hash(req.KeyHash.Bytes(), consumer.Bytes(),
		chain.BigToHash(req.SubID).Bytes(), idb)
	rs := &requestStorage{
		SubID:            chain.BigToHash(req.SubID),
		Consumer:         consumer,
		KeyHash:          req.KeyHash,
		PreSeed:          preSeed,
		BlockNumber:      ctx.BlockNumber(),
		CallbackGasLimit: req.CallbackGasLimit,
		NumWords:         req.NumWords,
		NativePayment:    req.NativePayment,
	}
	if err := putRequest(ctx, id, rs); err != nil {
		return 0, err
	}
	log.Lvlf2("request %d from %s on subscription %s", id, consumer.Hex(), req.SubID)
	return id, ctx.Emit(EventRandomWordsRequested, &RandomWordsRequested{
		KeyHash:                     req.KeyHash,
		RequestID:                   id,
		PreSeed:                     preSeed,
		SubID:                       rs.SubID,
		MinimumRequestConfirmations: uint32(req.RequestConfirmations),
		CallbackGasLimit:            req.CallbackGasLimit,
		NumWords:                    req.NumWords,
		NativePayment:               req.NativePayment,
		Sender:                      consumer,
	})
}

// FulfillRandomWords delivers the words of request id to consumer. Any
// failure of the consumer callback fails the whole fulfillment.
func (c *contractCoordinator) FulfillRandomWords(ctx *chain.Context, id uint64, consumer common.Address) error {
	return c.fulfill(ctx, id, consumer, nil)
}

// FulfillRandomWordsWithOverride is FulfillRandomWords with caller-chosen
// words. An empty override falls back to the proven words.
func (c *contractCoordinator) FulfillRandomWordsWithOverride(ctx *chain.Context, id uint64,
	consumer common.Address, words []*big.Int) error {
	return c.fulfill(ctx, id, consumer, words)
}

func (c *contractCoordinator) fulfill(ctx *chain.Context, id uint64,
	consumer common.Address, override []*big.Int) error {
	req, err := getRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.Consumer != consumer {
		return xerrors.Errorf("request %d belongs to %s, not %s: %w", id,
			req.Consumer.Hex(), consumer.Hex(), ErrInvalidRequest)
	}

	out, err := c.prove(id, req)
	if err != nil {
		return err
	}
	words := out.Words(req.NumWords)
	outputSeed := out.Hash()
	seed, proof := out.Seed, out.Value
	if len(override) > 0 {
		if len(override) != int(req.NumWords) {
			return xerrors.Errorf("expected %d words, got %d", req.NumWords, len(override))
		}
		words = override
		outputSeed = common.Hash{}
		seed, proof = nil, nil
	}

	// the request is consumed before the callback runs so that a re-entrant
	// fulfillment is rejected
	if err := ctx.Delete(requestKey(id)); err != nil {
		return err
	}
	subID := req.SubID.Big()
	payment, err := c.charge(ctx, subID, req)
	if err != nil {
		return err
	}

	err = ctx.CallContract(consumer, nil, func(cc *chain.Context) error {
		cons, ok := cc.Contract().(Consumer)
		if !ok {
			return xerrors.Errorf("%s is not a randomness consumer", consumer.Hex())
		}
		return cons.RawFulfillRandomWords(cc, id, words)
	})
	if err != nil {
		log.Lvlf2("fulfillment of request %d failed: %v", id, err)
		return xerrors.Errorf("consumer callback: %w", err)
	}
	return ctx.Emit(EventRandomWordsFulfilled, &RandomWordsFulfilled{
		RequestID:     id,
		OutputSeed:    outputSeed,
		SubID:         req.SubID,
		Payment:       chain.BigToHash(payment),
		NativePayment: req.NativePayment,
		Success:       true,
		Seed:          seed,
		Proof:         proof,
	})
}

func (c *contractCoordinator) prove(id uint64, req *requestStorage) (*base.RandomnessOutput, error) {
	seed := base.RequestSeed(req.PreSeed, req.BlockNumber)
	sig, err := bls.Sign(base.Suite, c.sk, seed)
	if err != nil {
		return nil, xerrors.Errorf("couldn't sign seed: %v", err)
	}
	out := &base.RandomnessOutput{
		Public:    c.pk,
		RequestID: id,
		Seed:      seed,
		Value:     sig,
	}
	if err := out.Verify(); err != nil {
		return nil, err
	}
	return out, nil
}

// charge bills BaseFee plus GasPriceLink per word to the subscription.
func (c *contractCoordinator) charge(ctx *chain.Context, subID *big.Int, req *requestStorage) (*big.Int, error) {
	sub, err := getSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	payment := new(big.Int).Mul(c.params.GasPriceLink, big.NewInt(int64(req.NumWords)))
	payment.Add(payment, c.params.BaseFee)
	bal := sub.Balance.Big()
	if req.NativePayment {
		bal = sub.NativeBalance.Big()
	}
	if bal.Cmp(payment) < 0 {
		return nil, xerrors.Errorf("balance %s, payment %s: %w", bal, payment,
			ErrInsufficientBalance)
	}
	bal.Sub(bal, payment)
	if req.NativePayment {
		sub.NativeBalance = chain.BigToHash(bal)
	} else {
		sub.Balance = chain.BigToHash(bal)
	}
	sub.ReqCount++
	if err := putSubscription(ctx, subID, sub); err != nil {
		return nil, err
	}
	return payment, nil
}

func (c *contractCoordinator) ownedSubscription(ctx *chain.Context, subID *big.Int) (*subscriptionStorage, error) {
	sub, err := getSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.Owner != ctx.Sender() {
		return nil, xerrors.Errorf("%s is not the owner of %s: %w",
			ctx.Sender().Hex(), subID, ErrMustBeSubOwner)
	}
	return sub, nil
}

func addBalance(old, amount *big.Int) (*big.Int, error) {
	bal := new(big.Int).Add(old, amount)
	if err := chain.CheckAmount(bal); err != nil {
		return nil, xerrors.Errorf("subscription balance overflows: %w", err)
	}
	return bal, nil
}
