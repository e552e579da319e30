/* Copyright 2026 The Legion Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package bolt is a storage.Store backed by a bbolt file.
package bolt

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/legionkit/legion/storage"
)

var actorsBucket = []byte("actors")

type Storage struct {
	filename string
	db       *bolt.DB
}

func NewStorage(filename string) (*Storage, error) {
	return &Storage{
		filename: filename,
	}, nil
}

func (s *Storage) Open() error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	s.db = db

	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(actorsBucket)
		return err
	})
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) WriteActor(ctx context.Context, id string, snapshot []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(actorsBucket).Put([]byte(id), snapshot)
	})
}

func (s *Storage) ReadActor(ctx context.Context, id string) ([]byte, error) {
	var snapshot []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bs := tx.Bucket(actorsBucket).Get([]byte(id))
		if bs == nil {
			return storage.NotFound
		}
		snapshot = append([]byte{}, bs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *Storage) RemActor(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(actorsBucket).Delete([]byte(id))
	})
}

func (s *Storage) EachActor(ctx context.Context, f func(id string, snapshot []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(actorsBucket).Cursor()
		for id, bs := c.First(); id != nil; id, bs = c.Next() {
			if err := f(string(id), append([]byte{}, bs...)); err != nil {
				return err
			}
		}
		return nil
	})
}
