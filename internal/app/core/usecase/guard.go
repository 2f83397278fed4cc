package usecase

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// DefaultLeaseTimeout 取得租約的預設等待上限
const DefaultLeaseTimeout = 3 * time.Second

// AccountGuard 確保同一帳戶同時間最多只有一個餘額異動在執行
//
// 每個帳戶對應一把 channel-as-mutex (buffer 1)；
// 涉及兩個帳戶的操作一律依 UUID byte 序逐一取鎖，
// 固定的全域順序是唯一的死鎖預防機制。
type AccountGuard struct {
	ledger  Ledger
	timeout time.Duration

	mu    sync.Mutex
	locks map[uuid.UUID]*accountLock
}

// accountLock 以 refs 記錄持有者與等待者數量，歸零時從 map 移除
type accountLock struct {
	ch   chan struct{}
	refs int
}

// Lease 帳戶租約，操作的所有離開路徑都必須 Release (defer)
type Lease struct {
	guard    *AccountGuard
	ids      []uuid.UUID
	released bool
}

// NewAccountGuard 建立 AccountGuard
// timeout <= 0 時使用 DefaultLeaseTimeout
func NewAccountGuard(ledger Ledger, timeout time.Duration) *AccountGuard {
	if timeout <= 0 {
		timeout = DefaultLeaseTimeout
	}
	return &AccountGuard{
		ledger:  ledger,
		timeout: timeout,
		locks:   make(map[uuid.UUID]*accountLock),
	}
}

// Acquire 取得一個或兩個帳戶的獨佔租約
//
// 等待總時間以 timeout 為上限，逾時回傳 ErrLockTimeout 且不持有任何鎖；
// 呼叫端取消時回傳 ctx.Err()，與鎖競爭逾時可區分。
// 租約成立後會向儲存層確認帳戶存在且為啟用狀態，
// 否則釋放所有鎖並回傳 ErrAccountNotFound，不發放租約。
func (g *AccountGuard) Acquire(ctx context.Context, ids ...uuid.UUID) (*Lease, error) {
	lease, err := g.hold(ctx, ids...)
	if err != nil {
		return nil, err
	}

	// 鎖定後確認帳戶可用；這裡失敗等同驗證失敗，沒有任何異動
	for _, id := range lease.ids {
		acct, err := g.ledger.GetAccount(ctx, id)
		if err != nil {
			lease.Release()
			return nil, err
		}
		if !acct.Active {
			lease.Release()
			return nil, domain.ErrAccountNotFound
		}
	}

	return lease, nil
}

// hold 只取鎖、不檢查帳戶狀態
// 對帳路徑使用：停用中的帳戶也必須能在租約內重放修復
func (g *AccountGuard) hold(ctx context.Context, ids ...uuid.UUID) (*Lease, error) {
	ordered := orderIDs(ids)

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	acquired := make([]uuid.UUID, 0, len(ordered))
	rollback := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			g.unlock(acquired[i])
		}
	}

	for _, id := range ordered {
		l := g.retain(id)
		select {
		case l.ch <- struct{}{}:
			acquired = append(acquired, id)
		case <-timer.C:
			g.releaseRef(id)
			rollback()
			return nil, domain.ErrLockTimeout
		case <-ctx.Done():
			g.releaseRef(id)
			rollback()
			return nil, ctx.Err()
		}
	}

	return &Lease{guard: g, ids: ordered}, nil
}

// Release 釋放租約；重複呼叫為 no-op
func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	for i := len(l.ids) - 1; i >= 0; i-- {
		l.guard.unlock(l.ids[i])
	}
}

// retain 取出或建立帳戶鎖並增加引用計數
func (g *AccountGuard) retain(id uuid.UUID) *accountLock {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &accountLock{ch: make(chan struct{}, 1)}
		g.locks[id] = l
	}
	l.refs++
	return l
}

// releaseRef 減少引用計數，歸零時回收鎖
func (g *AccountGuard) releaseRef(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.locks[id]
	l.refs--
	if l.refs == 0 {
		delete(g.locks, id)
	}
}

// unlock 釋放持有中的鎖
func (g *AccountGuard) unlock(id uuid.UUID) {
	g.mu.Lock()
	l := g.locks[id]
	g.mu.Unlock()
	<-l.ch
	g.releaseRef(id)
}

// orderIDs 去除重複並依 UUID byte 序排列
// 任何呼叫端都不可自行決定取鎖順序
func orderIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		dup := false
		for _, o := range out {
			if o == id {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
