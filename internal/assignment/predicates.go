package assignment

import (
	"context"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/handlers"
)

// PredicateFourEyes — имя встроенного предиката "четырёх глаз".
const PredicateFourEyes = "four_eyes"

// FourEyes разрешает задачу любому, кроме пользователя, выполнившего узел params.node.
// Для автоматических узлов исполнителем считается инициатор процесса
// (переменная "initiator"). Если задан params.roles, пользователь также
// должен иметь одну из ролей. Если исполнителя определить нельзя,
// задача запрещена всем.
//
//	assignment:
//	  kind: predicate
//	  predicate: four_eyes
//	  params: {node: submit, roles: [finance]}
func FourEyes(ctx context.Context, req PredicateRequest) (bool, error) {
	if roles := handlers.Values(req.Params).Strings("roles"); len(roles) > 0 && !intersects(req.Roles, roles) {
		return false, nil
	}
	done := performer(req)
	return done != "" && done != req.ActorID, nil
}

// performer возвращает пользователя, выполнившего узел params.node.
func performer(req PredicateRequest) string {
	nodeID := handlers.Values(req.Params).String("node")
	for i := len(req.History) - 1; i >= 0; i-- {
		e := req.History[i]
		if e.NodeID == nodeID && e.Status == domain.EntryStatusComplete && e.CompletedBy != "" {
			return e.CompletedBy
		}
	}
	initiator, _ := req.Process.Variables[handlers.VariableInitiator].(string)
	return initiator
}
