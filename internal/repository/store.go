package repository

import "database/sql"

// Store bundles the user and session repositories over one database handle.
// It is the credential store the session manager is built on.
type Store struct {
	*UserRepo
	*TokenRepo
}

func NewStore(db *sql.DB) *Store {
	return &Store{UserRepo: NewUserRepo(db), TokenRepo: NewTokenRepo(db)}
}
