package bot

import (
	"sync"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
)

type State int

const (
	StateSelectTarget State = iota
	StateChooseAuth
	StateEnterPassword
	StateEnterCommand
	StateEnterBulkCommand
)

func (s State) String() string {
	switch s {
	case StateSelectTarget:
		return "SELECT_TARGET"
	case StateChooseAuth:
		return "CHOOSE_AUTH"
	case StateEnterPassword:
		return "ENTER_PASSWORD"
	case StateEnterCommand:
		return "ENTER_COMMAND"
	case StateEnterBulkCommand:
		return "ENTER_BULK_COMMAND"
	default:
		return "UNKNOWN"
	}
}

// Session 单个操作员的会话。所有字段受 mu 保护，处理一个事件期间调度器全程持有该锁。
type Session struct {
	mu sync.Mutex

	operatorID    int64
	state         State
	host          string
	port          int
	activeOrderID int64
	authMethod    domain.AuthMethod
	password      string
	ended         bool
}

// SessionView 会话快照，不含密码
type SessionView struct {
	OperatorID    int64
	State         State
	Host          string
	Port          int
	ActiveOrderID int64
	AuthMethod    domain.AuthMethod
	HasPassword   bool
	Ended         bool
}

func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionView{
		OperatorID:    s.operatorID,
		State:         s.state,
		Host:          s.host,
		Port:          s.port,
		ActiveOrderID: s.activeOrderID,
		AuthMethod:    s.authMethod,
		HasPassword:   s.password != "",
		Ended:         s.ended,
	}
}

func (s *Session) clearTarget() {
	s.host, s.port, s.activeOrderID = "", 0, 0
}

// end 调用方须持有 mu
func (s *Session) end() {
	s.ended = true
	s.password = ""
	s.authMethod = ""
	s.clearTarget()
}

// Store 操作员 -> 当前会话
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Start 新建会话并替换该操作员的旧会话
func (st *Store) Start(operatorID int64) *Session {
	s := &Session{operatorID: operatorID, state: StateSelectTarget}
	st.mu.Lock()
	old := st.sessions[operatorID]
	st.sessions[operatorID] = s
	st.mu.Unlock()
	if old != nil {
		old.mu.Lock()
		old.end()
		old.mu.Unlock()
	}
	return s
}

func (st *Store) Get(operatorID int64) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[operatorID]
	return s, ok
}

// End 移除会话并清除密码
func (st *Store) End(operatorID int64) {
	st.mu.Lock()
	s := st.sessions[operatorID]
	delete(st.sessions, operatorID)
	st.mu.Unlock()
	if s != nil {
		s.mu.Lock()
		s.end()
		s.mu.Unlock()
	}
}

// endLocked 供已持有 s.mu 的调用方使用
func (st *Store) endLocked(s *Session) {
	st.mu.Lock()
	if st.sessions[s.operatorID] == s {
		delete(st.sessions, s.operatorID)
	}
	st.mu.Unlock()
	s.end()
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
