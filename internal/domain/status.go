package domain

// ProcessStatus — статус процесса.
//
// Жизненный цикл:
//
//	RUNNING → COMPLETE
//	        ↘ CANCELLED
type ProcessStatus string

const (
	// ProcessStatusRunning — процесс выполняется.
	ProcessStatusRunning ProcessStatus = "RUNNING"

	// ProcessStatusComplete — у процесса не осталось незавершённых записей очереди.
	ProcessStatusComplete ProcessStatus = "COMPLETE"

	// ProcessStatusCancelled — процесс отменён оператором.
	ProcessStatusCancelled ProcessStatus = "CANCELLED"
)

// IsTerminal возвращает true, если процесс завершён.
func (s ProcessStatus) IsTerminal() bool {
	return s == ProcessStatusComplete || s == ProcessStatusCancelled
}

// EntryStatus — статус записи очереди.
//
// Жизненный цикл:
//
//	WAITING → READY → ACTIVE → COMPLETE
//	            └──────────────↗
//	(из любого нетерминального) → CANCELLED | ERROR
//	ERROR → READY (только административный retry)
type EntryStatus string

const (
	// EntryStatusWaiting — join-узел ждёт завершения всех предшественников.
	EntryStatusWaiting EntryStatus = "WAITING"

	// EntryStatusReady — запись готова к выполнению оркестратором.
	EntryStatusReady EntryStatus = "READY"

	// EntryStatusActive — интерактивная задача ждёт действия человека.
	EntryStatusActive EntryStatus = "ACTIVE"

	// EntryStatusComplete — задача выполнена.
	EntryStatusComplete EntryStatus = "COMPLETE"

	// EntryStatusCancelled — задача отменена.
	EntryStatusCancelled EntryStatus = "CANCELLED"

	// EntryStatusError — handler завершился ошибкой, ветка остановлена.
	EntryStatusError EntryStatus = "ERROR"
)

// entryTransitions — допустимые переходы (без административного retry).
var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryStatusWaiting: {EntryStatusReady, EntryStatusCancelled, EntryStatusError},
	EntryStatusReady:   {EntryStatusActive, EntryStatusComplete, EntryStatusCancelled, EntryStatusError},
	EntryStatusActive:  {EntryStatusComplete, EntryStatusCancelled, EntryStatusError},
	EntryStatusError:   {EntryStatusCancelled},
}

// CanTransitionTo проверяет, допустим ли переход в статус target.
func (s EntryStatus) CanTransitionTo(target EntryStatus) bool {
	for _, allowed := range entryTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для статусов, из которых нет выхода.
func (s EntryStatus) IsTerminal() bool {
	return s == EntryStatusComplete || s == EntryStatusCancelled
}

// BlocksCompletion возвращает true, если запись в этом статусе
// не даёт процессу перейти в COMPLETE.
//
// ERROR блокирует завершение: ветка остановлена до вмешательства оператора.
func (s EntryStatus) BlocksCompletion() bool {
	switch s {
	case EntryStatusWaiting, EntryStatusReady, EntryStatusActive, EntryStatusError:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s EntryStatus) IsValid() bool {
	switch s {
	case EntryStatusWaiting, EntryStatusReady, EntryStatusActive,
		EntryStatusComplete, EntryStatusCancelled, EntryStatusError:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление EntryStatus.
func (s EntryStatus) String() string {
	return string(s)
}
