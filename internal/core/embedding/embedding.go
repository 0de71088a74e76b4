package embedding

import "errors"

// Dimension はシステム全体で使用する埋め込みベクトルの次元数
const Dimension = 1024

// ErrUnavailable はEmbeddingサービスが利用できない場合のエラー
var ErrUnavailable = errors.New("embedding unavailable")
