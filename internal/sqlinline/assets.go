package sqlinline

const QInsertAsset = `--sql 2c8e5a1f-4b7d-4e9a-8f3c-6d1b9e5a2c7f
insert into assets(
  id, user_id, request_id, storage_key, url, mime, bytes, width, height, aspect_ratio, properties, created_at
) values (
  gen_random_uuid(), $1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::bigint, $7::int, $8::int, nullif($9::text, ''), $10::jsonb, now()
) returning id;
`

const QListAssetsByUser = `--sql 7d2b8f4e-1c6a-4d9b-a8e5-3f7c1d9b6e2a
select id, coalesce(request_id::text, ''), storage_key, url, mime, bytes, width, height, coalesce(aspect_ratio, ''), properties, created_at
from assets
where user_id = $1::uuid
order by created_at desc
limit $2::int offset $3::int;
`

const QSelectAssetByID = `--sql 9f5c1e8a-3d7b-4a2e-b6f9-8c4d2a7e1f5b
select id, user_id, storage_key, url, mime, bytes, width, height, coalesce(aspect_ratio, '')
from assets
where id = $1::uuid
limit 1;
`

const QSelectAssetByRequest = `--sql 5a9d3f7c-8e2b-4c6f-a1d4-7b9e3c5f8a2d
select id, url, mime, bytes, width, height, coalesce(aspect_ratio, '')
from assets
where request_id = $1::uuid
order by created_at asc
limit 1;
`
