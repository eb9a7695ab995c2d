package reliability

// Stats 单个连接的可靠投递统计
type Stats struct {
	// Sent 登记的可靠消息数
	Sent uint64

	// Acked 收到确认的消息数
	Acked uint64

	// Lost 重试耗尽的消息数
	Lost uint64

	// Retries 重发次数
	Retries uint64

	// Pending 当前待确认条目数
	Pending int

	// RecentLoss 最近窗口内的丢失率
	RecentLoss float64

	// LifetimeLoss 连接生命周期内的丢失率
	LifetimeLoss float64
}

// lossWindow 最近 N 条投递结果的环形窗口
type lossWindow struct {
	outcomes []bool
	next     int
	filled   int
	lost     int

	sent    uint64
	acked   uint64
	dropped uint64
	retries uint64
}

func newLossWindow(size int) *lossWindow {
	return &lossWindow{outcomes: make([]bool, size)}
}

// record 记录一次投递结果，lost 为 true 表示丢失
func (w *lossWindow) record(lost bool) {
	if w.filled == len(w.outcomes) {
		if w.outcomes[w.next] {
			w.lost--
		}
	} else {
		w.filled++
	}
	w.outcomes[w.next] = lost
	if lost {
		w.lost++
		w.dropped++
	} else {
		w.acked++
	}
	w.next = (w.next + 1) % len(w.outcomes)
}

func (w *lossWindow) recent() float64 {
	if w.filled == 0 {
		return 0
	}
	return float64(w.lost) / float64(w.filled)
}

func (w *lossWindow) lifetime() float64 {
	done := w.acked + w.dropped
	if done == 0 {
		return 0
	}
	return float64(w.dropped) / float64(done)
}
