package ports

import "context"

// HolderGate comprueba la pertenencia al rol de holder en la plataforma
// de chat. Con el rol sin configurar, todo el mundo pasa.
type HolderGate interface {
	HasHolderRole(ctx context.Context, userID string) (bool, error)
}
